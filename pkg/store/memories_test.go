package store_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/secondme/secondme/pkg/store"
)

var _ = Describe("Memories", func() {
	var (
		ctx context.Context
		s   *store.Store
	)

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		s, err = store.NewStore(":memory:", zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		s.Close()
	})

	It("creates a manual memory with the untyped default", func() {
		m, err := s.CreateManualMemory(ctx, "u1", "likes espresso")
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Source).To(Equal(store.SourceManual))
		Expect(m.MemoryType).To(Equal(store.MemoryTypeChat))

		got, err := s.GetMemory(ctx, m.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Content).To(Equal("likes espresso"))
		Expect(got.MemoryType).To(Equal(store.MemoryTypeChat))
	})

	It("lists manual memories despite the untyped default", func() {
		m, err := s.CreateManualMemory(ctx, "u1", "likes espresso")
		Expect(err).NotTo(HaveOccurred())

		memories, total, err := s.ListMemories(ctx, store.ListMemoriesParams{UserID: "u1", Page: 1, PageSize: 10})
		Expect(err).NotTo(HaveOccurred())
		Expect(total).To(Equal(1))
		Expect(memories[0].ID).To(Equal(m.ID))
	})

	It("normalizes unknown extracted types to fact", func() {
		m, err := s.CreateExtractedMemory(ctx, "", "something", "rumor", "")
		Expect(err).NotTo(HaveOccurred())
		Expect(m.MemoryType).To(Equal(store.MemoryTypeFact))
	})

	It("keeps the valid extracted types", func() {
		for _, typ := range []string{"personal", "preference", "fact", "plan"} {
			m, err := s.CreateExtractedMemory(ctx, "", "content", typ, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(m.MemoryType).To(Equal(typ))
		}
	})

	It("pages listings newest first with a total count", func() {
		for i := 0; i < 5; i++ {
			_, err := s.CreateManualMemory(ctx, "u1", "note")
			Expect(err).NotTo(HaveOccurred())
		}

		page, total, err := s.ListMemories(ctx, store.ListMemoriesParams{
			UserID: "u1", Page: 1, PageSize: 2,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(total).To(Equal(5))
		Expect(page).To(HaveLen(2))
	})

	It("filters by source", func() {
		_, err := s.CreateManualMemory(ctx, "", "manual one")
		Expect(err).NotTo(HaveOccurred())
		_, err = s.CreateExtractedMemory(ctx, "", "extracted one", "fact", "")
		Expect(err).NotTo(HaveOccurred())

		manual, total, err := s.ListMemories(ctx, store.ListMemoriesParams{Source: store.SourceManual})
		Expect(err).NotTo(HaveOccurred())
		Expect(total).To(Equal(1))
		Expect(manual[0].Content).To(Equal("manual one"))
	})

	It("updates content in place keeping the id", func() {
		m, err := s.CreateManualMemory(ctx, "", "old content")
		Expect(err).NotTo(HaveOccurred())

		updated, err := s.UpdateMemoryContent(ctx, m.ID, "new content")
		Expect(err).NotTo(HaveOccurred())
		Expect(updated.ID).To(Equal(m.ID))
		Expect(updated.Content).To(Equal("new content"))

		_, err = s.UpdateMemoryContent(ctx, "missing", "x")
		Expect(err).To(MatchError(store.ErrNotFound))
	})

	It("deletes all memories for a user and returns their ids", func() {
		a, err := s.CreateManualMemory(ctx, "u1", "a")
		Expect(err).NotTo(HaveOccurred())
		b, err := s.CreateManualMemory(ctx, "u1", "b")
		Expect(err).NotTo(HaveOccurred())
		_, err = s.CreateManualMemory(ctx, "u2", "keep")
		Expect(err).NotTo(HaveOccurred())

		ids, err := s.DeleteAllMemories(ctx, "u1")
		Expect(err).NotTo(HaveOccurred())
		Expect(ids).To(ConsistOf(a.ID, b.ID))

		_, total, err := s.ListMemories(ctx, store.ListMemoriesParams{})
		Expect(err).NotTo(HaveOccurred())
		Expect(total).To(Equal(1))
	})

	It("records usage and bumps counters", func() {
		topic, err := s.CreateTopic(ctx, "", "t")
		Expect(err).NotTo(HaveOccurred())
		msg, err := s.CreateMessage(ctx, topic.ID, "assistant", "reply")
		Expect(err).NotTo(HaveOccurred())
		m, err := s.CreateManualMemory(ctx, "", "used memory")
		Expect(err).NotTo(HaveOccurred())

		Expect(s.RecordMemoryUsage(ctx, m.ID, topic.ID, msg.ID)).To(Succeed())
		Expect(s.RecordMemoryUsage(ctx, m.ID, topic.ID, msg.ID)).To(Succeed())

		got, err := s.GetMemory(ctx, m.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.UseCount).To(Equal(2))
		Expect(got.LastUsedAt).NotTo(BeNil())

		history, err := s.MemoryUsageHistory(ctx, m.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(history).To(HaveLen(2))
		Expect(history[0].TopicTitle).To(Equal("t"))
	})
})

var _ = Describe("Flowmos", func() {
	var (
		ctx context.Context
		s   *store.Store
	)

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		s, err = store.NewStore(":memory:", zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		s.Close()
	})

	It("creates a direct flowmo without topic linkage", func() {
		f, err := s.CreateFlowmo(ctx, "u1", "journal note", store.SourceDirect, "", "")
		Expect(err).NotTo(HaveOccurred())
		Expect(f.Source).To(Equal(store.SourceDirect))

		got, err := s.GetFlowmo(ctx, f.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.TopicID).To(BeEmpty())
	})

	It("pages listings newest first", func() {
		for i := 0; i < 3; i++ {
			_, err := s.CreateFlowmo(ctx, "u1", "note", store.SourceDirect, "", "")
			Expect(err).NotTo(HaveOccurred())
		}

		page, total, err := s.ListFlowmos(ctx, "u1", 1, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(total).To(Equal(3))
		Expect(page).To(HaveLen(2))
	})

	It("tracks the latest capture time per topic", func() {
		topic, err := s.GetOrCreateFlowmoTopic(ctx, "")
		Expect(err).NotTo(HaveOccurred())

		latest, err := s.LatestFlowmoTime(ctx, topic.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(latest).To(BeNil())

		first, err := s.CreateFlowmo(ctx, "", "first", store.SourceChat, topic.ID, "")
		Expect(err).NotTo(HaveOccurred())
		second, err := s.CreateFlowmo(ctx, "", "second", store.SourceChat, topic.ID, "")
		Expect(err).NotTo(HaveOccurred())

		latest, err = s.LatestFlowmoTime(ctx, topic.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(latest).NotTo(BeNil())
		Expect(latest.Before(first.CreatedAt)).To(BeFalse())
		Expect(latest.Before(second.CreatedAt)).To(BeFalse())
	})

	It("deletes all flowmos for a user and returns their ids", func() {
		a, err := s.CreateFlowmo(ctx, "u1", "a", store.SourceDirect, "", "")
		Expect(err).NotTo(HaveOccurred())
		_, err = s.CreateFlowmo(ctx, "u2", "keep", store.SourceDirect, "", "")
		Expect(err).NotTo(HaveOccurred())

		ids, err := s.DeleteAllFlowmos(ctx, "u1")
		Expect(err).NotTo(HaveOccurred())
		Expect(ids).To(ConsistOf(a.ID))

		_, total, err := s.ListFlowmos(ctx, "", 1, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(total).To(Equal(1))
	})
})

var _ = Describe("Settings", func() {
	var (
		ctx context.Context
		s   *store.Store
	)

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		s, err = store.NewStore(":memory:", zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		s.Close()
	})

	It("round-trips and overwrites values", func() {
		_, err := s.GetSetting(ctx, store.SettingMemoryTopK)
		Expect(err).To(MatchError(store.ErrNotFound))

		Expect(s.SetSetting(ctx, store.SettingMemoryTopK, "5")).To(Succeed())
		Expect(s.SetSetting(ctx, store.SettingMemoryTopK, "8")).To(Succeed())

		v, err := s.GetSetting(ctx, store.SettingMemoryTopK)
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal("8"))

		all, err := s.AllSettings(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(all).To(HaveKeyWithValue(store.SettingMemoryTopK, "8"))
	})
})
