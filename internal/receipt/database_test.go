package receipt

import (
	"path/filepath"

	ginkgo "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"paragon/internal/category"
)

var _ = ginkgo.Describe("BoltDB", func() {
	var db *BoltDB

	ginkgo.BeforeEach(func() {
		var err error
		db, err = NewBoltDB(filepath.Join(ginkgo.GinkgoT().TempDir(), "paragon.db"))
		Expect(err).NotTo(HaveOccurred())
		ginkgo.DeferCleanup(db.Close)
	})

	ginkgo.Describe("consent", func() {
		ginkgo.It("defaults to not given for unknown users", func() {
			consent, err := db.GetConsent("nobody")
			Expect(err).NotTo(HaveOccurred())
			Expect(consent).To(BeFalse())
		})

		ginkgo.It("round-trips the consent flag", func() {
			Expect(db.SetConsent("user-1", true)).To(Succeed())

			consent, err := db.GetConsent("user-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(consent).To(BeTrue())

			Expect(db.SetConsent("user-1", false)).To(Succeed())
			consent, err = db.GetConsent("user-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(consent).To(BeFalse())
		})
	})

	ginkgo.Describe("categories", func() {
		ginkgo.It("starts empty", func() {
			categories, err := db.ListCategories()
			Expect(err).NotTo(HaveOccurred())
			Expect(categories).To(BeEmpty())
		})

		ginkgo.It("seeds categories preserving list order", func() {
			Expect(db.SeedCategories(DefaultCategories)).To(Succeed())

			categories, err := db.ListCategories()
			Expect(err).NotTo(HaveOccurred())
			Expect(categories).To(Equal(DefaultCategories))
		})

		ginkgo.It("does not overwrite an already seeded list", func() {
			Expect(db.SeedCategories([]category.Category{{ID: "c1", Name: "First"}})).To(Succeed())
			Expect(db.SeedCategories([]category.Category{{ID: "c2", Name: "Second"}})).To(Succeed())

			categories, err := db.ListCategories()
			Expect(err).NotTo(HaveOccurred())
			Expect(categories).To(HaveLen(1))
			Expect(categories[0].ID).To(Equal("c1"))
		})
	})

	ginkgo.Describe("expenses", func() {
		ginkgo.It("saves a batch and lists it per user", func() {
			batch := []*Expense{
				{ID: "e1", UserID: "user-1", CategoryID: "inne", Amount: "4.20"},
				{ID: "e2", UserID: "user-1", CategoryID: "inne", Amount: "3.50"},
				{ID: "e3", UserID: "user-2", CategoryID: "inne", Amount: "9.99"},
			}
			Expect(db.SaveExpenses(batch)).To(Succeed())

			mine, err := db.ListExpenses("user-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(mine).To(HaveLen(2))

			theirs, err := db.ListExpenses("user-2")
			Expect(err).NotTo(HaveOccurred())
			Expect(theirs).To(HaveLen(1))
			Expect(theirs[0].Amount).To(Equal("9.99"))
		})

		ginkgo.It("lists nothing for a user with no expenses", func() {
			expenses, err := db.ListExpenses("nobody")
			Expect(err).NotTo(HaveOccurred())
			Expect(expenses).To(BeEmpty())
		})
	})
})
