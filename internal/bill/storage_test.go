package bill

import (
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ImageKey", func() {
	It("should prefix the bill id and keep the extension", func() {
		Expect(ImageKey("bill_1", "power bill.JPG")).To(Equal("bill_1_power bill.jpg"))
	})

	It("should strip unsafe characters", func() {
		Expect(ImageKey("bill_1", "../../etc/pa$$wd.png")).To(Equal("bill_1_pawd.png"))
	})

	It("should fall back to a default name", func() {
		Expect(ImageKey("bill_1", "@@@.pdf")).To(Equal("bill_1_bill.pdf"))
	})

	It("should shorten long names", func() {
		key := ImageKey("bill_1", strings.Repeat("a", 80)+".png")
		Expect(key).To(Equal("bill_1_" + strings.Repeat("a", 50) + ".png"))
	})
})

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage *LocalStorage
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(tmpDir)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Save", func() {
		var (
			key  string
			ref  string
			data []byte
			err  error
		)

		BeforeEach(func() {
			key = "bill_1_test.jpg"
			data = []byte("test file content")
		})

		JustBeforeEach(func() {
			ref, err = storage.Save(key, data)
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return the key as reference", func() {
				Expect(ref).To(Equal(key))
			})

			It("should save the file to disk", func() {
				Expect(filepath.Join(tmpDir, key)).To(BeAnExistingFile())
			})
		})

		When("the key escapes the directory", func() {
			BeforeEach(func() {
				key = "../outside.jpg"
			})

			It("should return an error", func() {
				Expect(err).To(HaveOccurred())
				Expect(filepath.Join(filepath.Dir(tmpDir), "outside.jpg")).NotTo(BeAnExistingFile())
			})
		})
	})

	Describe("Get", func() {
		var (
			ref  string
			data []byte
			err  error
		)

		JustBeforeEach(func() {
			data, err = storage.Get(ref)
		})

		When("the image exists", func() {
			BeforeEach(func() {
				ref = "bill_1_test.jpg"
				Expect(os.WriteFile(filepath.Join(tmpDir, ref), []byte("image"), 0644)).To(Succeed())
			})

			It("should return the data", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(data).To(Equal([]byte("image")))
			})
		})

		When("the image does not exist", func() {
			BeforeEach(func() {
				ref = "missing.jpg"
			})

			It("should return an error", func() {
				Expect(err).To(HaveOccurred())
			})
		})

		When("the reference is empty", func() {
			BeforeEach(func() {
				ref = ""
			})

			It("should return an error", func() {
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("Delete", func() {
		It("should remove a stored image", func() {
			ref, err := storage.Save("bill_1_test.jpg", []byte("image"))
			Expect(err).NotTo(HaveOccurred())

			Expect(storage.Delete(ref)).To(Succeed())
			Expect(filepath.Join(tmpDir, ref)).NotTo(BeAnExistingFile())
		})

		It("should return an error for a missing image", func() {
			Expect(storage.Delete("missing.jpg")).NotTo(Succeed())
		})
	})

	Describe("Purge", func() {
		It("should remove every image", func() {
			for _, key := range []string{"a.jpg", "b.png", "c.pdf"} {
				_, err := storage.Save(key, []byte(key))
				Expect(err).NotTo(HaveOccurred())
			}

			Expect(storage.Purge()).To(Succeed())

			entries, err := os.ReadDir(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(BeEmpty())
		})
	})
})
