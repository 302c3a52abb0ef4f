package cart

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage Storage
	)

	BeforeEach(func() {
		tmpDir = filepath.Join(GinkgoT().TempDir(), "records")
		var err error
		storage, err = NewLocalStorage(tmpDir)
		Expect(err).NotTo(HaveOccurred())
	})

	It("should create the directory", func() {
		Expect(tmpDir).To(BeADirectory())
	})

	Describe("Save", func() {
		It("should write the file and return its name", func() {
			name, err := storage.Save("111_20240101_000000.json", []byte("{}"))
			Expect(err).NotTo(HaveOccurred())
			Expect(name).To(Equal("111_20240101_000000.json"))
			Expect(filepath.Join(tmpDir, name)).To(BeAnExistingFile())
		})

		It("should refuse names outside the directory", func() {
			_, err := storage.Save("../escape.json", []byte("{}"))
			Expect(err).To(MatchError(ContainSubstring("invalid file name")))
		})
	})

	Describe("Get", func() {
		BeforeEach(func() {
			Expect(os.WriteFile(filepath.Join(tmpDir, "a.json"), []byte("data"), 0644)).To(Succeed())
		})

		It("should read the file", func() {
			data, err := storage.Get("a.json")
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("data"))
		})

		It("should report a missing file", func() {
			_, err := storage.Get("missing.json")
			Expect(err).To(MatchError(ContainSubstring("reading file")))
		})
	})

	Describe("Delete", func() {
		BeforeEach(func() {
			Expect(os.WriteFile(filepath.Join(tmpDir, "a.json"), []byte("data"), 0644)).To(Succeed())
		})

		It("should remove the file", func() {
			Expect(storage.Delete("a.json")).To(Succeed())
			Expect(filepath.Join(tmpDir, "a.json")).NotTo(BeAnExistingFile())
		})

		It("should report a missing file", func() {
			Expect(storage.Delete("missing.json")).To(MatchError(ContainSubstring("deleting file")))
		})
	})
})
