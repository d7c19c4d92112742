package hashmap_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/radical-cybertools/radical-pilot-agent/common/utils/hashmap"
)

var _ = Describe("ConcurrentMap", func() {
	It("stores and loads a value by key", func() {
		m := hashmap.NewConcurrentMap[int](4)
		m.Store("a", 1)

		v, ok := m.Load("a")
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal(1))
	})

	It("reports a miss for an absent key", func() {
		m := hashmap.NewConcurrentMap[int](4)
		_, ok := m.Load("missing")
		Expect(ok).To(BeFalse())
	})

	It("removes an entry with LoadAndDelete and leaves it absent afterward", func() {
		m := hashmap.NewConcurrentMap[string](4)
		m.Store("k", "v")

		v, ok := m.LoadAndDelete("k")
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal("v"))

		_, ok = m.Load("k")
		Expect(ok).To(BeFalse())
	})

	It("only stores a value via LoadOrStore when the key is absent", func() {
		m := hashmap.NewConcurrentMap[int](4)

		v, loaded := m.LoadOrStore("k", 1)
		Expect(loaded).To(BeFalse())
		Expect(v).To(Equal(1))

		v, loaded = m.LoadOrStore("k", 2)
		Expect(loaded).To(BeTrue())
		Expect(v).To(Equal(1))
	})

	It("swaps only when the current value matches the expected old value", func() {
		m := hashmap.NewConcurrentMap[int](4)
		m.Store("k", 1)

		_, swapped := m.CompareAndSwap("k", 99, 2)
		Expect(swapped).To(BeFalse())
		v, _ := m.Load("k")
		Expect(v).To(Equal(1))

		_, swapped = m.CompareAndSwap("k", 1, 2)
		Expect(swapped).To(BeTrue())
		v, _ = m.Load("k")
		Expect(v).To(Equal(2))
	})

	It("ranges over every stored entry and reports the correct length", func() {
		m := hashmap.NewConcurrentMap[int](4)
		m.Store("a", 1)
		m.Store("b", 2)
		m.Store("c", 3)

		seen := map[string]int{}
		m.Range(func(k string, v int) bool {
			seen[k] = v
			return true
		})

		Expect(seen).To(Equal(map[string]int{"a": 1, "b": 2, "c": 3}))
		Expect(m.Len()).To(Equal(3))
	})

	It("deletes an entry", func() {
		m := hashmap.NewConcurrentMap[int](4)
		m.Store("a", 1)
		m.Delete("a")
		_, ok := m.Load("a")
		Expect(ok).To(BeFalse())
		Expect(m.Len()).To(Equal(0))
	})
})
