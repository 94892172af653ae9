package dispatcher

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("rerank", func() {
	known := func(int) bool { return true }

	It("moves displaced clusters right after the head", func() {
		Expect(rerank([]int{0, 1, 2, 3, 4, 5}, []int{5, 0, 1, 2, 3}, 5, known)).
			To(Equal([]int{5, 0, 1, 2, 3, 4}))
	})

	It("keeps the order when the reply agrees", func() {
		Expect(rerank([]int{0, 1, 2, 3, 4}, []int{0, 1, 2, 3, 4}, 5, known)).
			To(Equal([]int{0, 1, 2, 3, 4}))
	})

	It("ignores unknown clusters", func() {
		exists := func(id int) bool { return id < 10 }
		Expect(rerank([]int{0, 1, 2, 3, 4}, []int{42, 4, 3, 2, 1}, 5, exists)).
			To(Equal([]int{4, 3, 2, 1, 0}))
	})

	It("never lists a cluster twice", func() {
		out := rerank([]int{0, 1, 2, 3, 4, 5, 6}, []int{6, 6, 0}, 5, known)
		Expect(out).To(HaveLen(7))
		Expect(out[:2]).To(Equal([]int{6, 0}))
		Expect(out).To(ConsistOf(0, 1, 2, 3, 4, 5, 6))
	})
})
