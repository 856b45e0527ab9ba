package memory

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/secondme/secondme/pkg/eventstream"
	"github.com/secondme/secondme/pkg/store"
	testutils "github.com/secondme/secondme/pkg/utils/test"
)

type recordingPublisher struct {
	events []*eventstream.MemoryEvent
}

func (p *recordingPublisher) PublishMemory(_ context.Context, event *eventstream.MemoryEvent) error {
	if event == nil {
		return eventstream.ErrNilMemoryEvent
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

var _ = Describe("Extractor", func() {
	var (
		ctx       context.Context
		s         *store.Store
		chat      *testutils.MockChatClient
		embedder  *testutils.MockEmbedder
		driver    *testutils.MockVectorDriver
		publisher *recordingPublisher
		topic     *store.Topic
	)

	newExtractor := func(cfg ExtractorConfig) *Extractor {
		return NewExtractor(s, chat, embedder, driver, publisher, cfg, zap.NewNop())
	}

	seedConversation := func() []store.Message {
		m1, err := s.CreateMessage(ctx, topic.ID, "user", "My name is Dana and I work on compilers")
		Expect(err).NotTo(HaveOccurred())
		m2, err := s.CreateMessage(ctx, topic.ID, "assistant", "Nice to meet you, Dana")
		Expect(err).NotTo(HaveOccurred())
		return []store.Message{*m1, *m2}
	}

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		s, err = store.NewStore(":memory:", zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		chat = testutils.NewMockChatClient("")
		embedder = testutils.NewMockEmbedder()
		driver = testutils.NewMockVectorDriver()
		publisher = &recordingPublisher{}

		topic, err = s.CreateTopic(ctx, "", "compilers")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		s.Close()
	})

	It("persists extracted memories and advances the cursor", func() {
		msgs := seedConversation()
		chat.Response = `{"add":[{"type":"personal","content":"Dana works on compilers"}],"update":[],"reason":"new info"}`

		e := newExtractor(ExtractorConfig{AdvanceOnParseFailure: true})
		Expect(e.ExtractTopic(ctx, topic)).To(Succeed())

		memories, err := s.ListAllExtractedMemories(ctx, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(memories).To(HaveLen(1))
		Expect(memories[0].Content).To(Equal("Dana works on compilers"))
		Expect(memories[0].MemoryType).To(Equal(store.MemoryTypePersonal))
		Expect(memories[0].Source).To(Equal(store.SourceChat))
		Expect(memories[0].SourceTopicID).To(Equal(topic.ID))

		Expect(driver.Upserted).To(HaveLen(1))
		Expect(driver.Upserted[0].ID).To(Equal(memories[0].ID))

		updated, err := s.GetTopic(ctx, topic.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(updated.LastProcessedMessageID).To(Equal(msgs[len(msgs)-1].ID))
		Expect(updated.MemoryProcessedAt).NotTo(BeNil())

		Expect(publisher.events).To(HaveLen(1))
		Expect(publisher.events[0].EventType).To(Equal(eventstream.EventTypeExtractionCommitted))
		Expect(publisher.events[0].Added).To(Equal(1))
		Expect(publisher.events[0].TopicID).To(Equal(topic.ID))
	})

	It("normalizes unknown types and skips empty content", func() {
		seedConversation()
		chat.Response = `{"add":[{"type":"gossip","content":"Dana prefers LLVM"},{"type":"fact","content":""}],"update":[],"reason":""}`

		e := newExtractor(ExtractorConfig{AdvanceOnParseFailure: true})
		Expect(e.ExtractTopic(ctx, topic)).To(Succeed())

		memories, err := s.ListAllExtractedMemories(ctx, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(memories).To(HaveLen(1))
		Expect(memories[0].MemoryType).To(Equal(store.MemoryTypeFact))
	})

	It("reads the context window from settings on each batch", func() {
		var cursor *store.Message
		for _, content := range []string{"one", "two", "three", "four"} {
			m, err := s.CreateMessage(ctx, topic.ID, "user", content)
			Expect(err).NotTo(HaveOccurred())
			cursor = m
		}
		Expect(s.MarkProcessed(ctx, topic.ID, cursor.ID)).To(Succeed())

		_, err := s.CreateMessage(ctx, topic.ID, "user", "a fresh detail")
		Expect(err).NotTo(HaveOccurred())
		Expect(s.SetSetting(ctx, store.SettingMemoryContextMessages, "1")).To(Succeed())

		refreshed, err := s.GetTopic(ctx, topic.ID)
		Expect(err).NotTo(HaveOccurred())

		chat.Response = `{"add":[],"update":[],"reason":"nothing"}`
		e := newExtractor(ExtractorConfig{ContextMessages: 6, AdvanceOnParseFailure: true})
		Expect(e.ExtractTopic(ctx, refreshed)).To(Succeed())

		Expect(chat.Prompts).To(HaveLen(1))
		Expect(chat.Prompts[0]).To(ContainSubstring("User: four"))
		Expect(chat.Prompts[0]).NotTo(ContainSubstring("User: three"))
		Expect(chat.Prompts[0]).To(ContainSubstring("User: a fresh detail"))
	})

	It("updates an existing memory in place", func() {
		existing, err := s.CreateExtractedMemory(ctx, "", "Dana works on parsers", "fact", topic.ID)
		Expect(err).NotTo(HaveOccurred())

		seedConversation()
		chat.Response = `{"add":[],"update":[{"id":"` + existing.ID + `","content":"Dana works on compilers now"},{"id":"missing","content":"x"}],"reason":"update"}`

		e := newExtractor(ExtractorConfig{AdvanceOnParseFailure: true})
		Expect(e.ExtractTopic(ctx, topic)).To(Succeed())

		got, err := s.GetMemory(ctx, existing.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Content).To(Equal("Dana works on compilers now"))
		Expect(got.ID).To(Equal(existing.ID))

		Expect(publisher.events).To(HaveLen(1))
		Expect(publisher.events[0].Updated).To(Equal(1))
	})

	It("does nothing for a topic with no unprocessed messages", func() {
		e := newExtractor(ExtractorConfig{AdvanceOnParseFailure: true})
		Expect(e.ExtractTopic(ctx, topic)).To(Succeed())
		Expect(chat.Prompts).To(BeEmpty())
		Expect(publisher.events).To(BeEmpty())
	})

	It("does not reprocess messages covered by the cursor", func() {
		seedConversation()
		chat.Response = `{"add":[],"update":[],"reason":"nothing"}`

		e := newExtractor(ExtractorConfig{AdvanceOnParseFailure: true})
		Expect(e.ExtractTopic(ctx, topic)).To(Succeed())
		Expect(chat.Prompts).To(HaveLen(1))

		refreshed, err := s.GetTopic(ctx, topic.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(e.ExtractTopic(ctx, refreshed)).To(Succeed())
		Expect(chat.Prompts).To(HaveLen(1))
	})

	It("leaves the cursor untouched when the chat call fails", func() {
		seedConversation()
		chat.Err = errors.New("model unavailable")

		e := newExtractor(ExtractorConfig{AdvanceOnParseFailure: true})
		Expect(e.ExtractTopic(ctx, topic)).NotTo(Succeed())

		refreshed, err := s.GetTopic(ctx, topic.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(refreshed.LastProcessedMessageID).To(BeEmpty())
		Expect(refreshed.MemoryProcessedAt).To(BeNil())

		memories, err := s.ListAllExtractedMemories(ctx, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(memories).To(BeEmpty())
	})

	Context("with a malformed model response", func() {
		BeforeEach(func() {
			seedConversation()
			chat.Response = "sorry, nothing structured here"
		})

		It("commits no mutations", func() {
			e := newExtractor(ExtractorConfig{AdvanceOnParseFailure: true})
			Expect(e.ExtractTopic(ctx, topic)).To(Succeed())

			memories, err := s.ListAllExtractedMemories(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(memories).To(BeEmpty())
			Expect(driver.Upserted).To(BeEmpty())
		})

		It("advances the cursor when configured to", func() {
			e := newExtractor(ExtractorConfig{AdvanceOnParseFailure: true})
			Expect(e.ExtractTopic(ctx, topic)).To(Succeed())

			refreshed, err := s.GetTopic(ctx, topic.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(refreshed.LastProcessedMessageID).NotTo(BeEmpty())
		})

		It("keeps the batch eligible when configured to retry", func() {
			e := newExtractor(ExtractorConfig{AdvanceOnParseFailure: false})
			Expect(e.ExtractTopic(ctx, topic)).To(Succeed())

			refreshed, err := s.GetTopic(ctx, topic.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(refreshed.LastProcessedMessageID).To(BeEmpty())
			Expect(refreshed.MemoryProcessedAt).To(BeNil())
		})
	})

	It("offers vector search hits as dedup candidates", func() {
		seedConversation()
		driver.Results = append(driver.Results, queryResult("mem-9", "Dana likes Go", 0.1))
		chat.Response = `{"add":[],"update":[],"reason":"duplicate"}`

		e := newExtractor(ExtractorConfig{AdvanceOnParseFailure: true})
		Expect(e.ExtractTopic(ctx, topic)).To(Succeed())

		Expect(chat.Prompts).To(HaveLen(1))
		Expect(chat.Prompts[0]).To(ContainSubstring("[ID:mem-9] Dana likes Go"))
	})

	It("survives a failing candidate search", func() {
		seedConversation()
		driver.FailQuery = true
		chat.Response = `{"add":[],"update":[],"reason":"ok"}`

		e := newExtractor(ExtractorConfig{AdvanceOnParseFailure: true})
		Expect(e.ExtractTopic(ctx, topic)).To(Succeed())

		Expect(chat.Prompts).To(HaveLen(1))
		Expect(chat.Prompts[0]).To(ContainSubstring("(none)"))
	})

	It("treats vector indexing failures as non-fatal", func() {
		seedConversation()
		driver.FailUpsert = true
		chat.Response = `{"add":[{"type":"fact","content":"Dana ships on Fridays"}],"update":[],"reason":""}`

		e := newExtractor(ExtractorConfig{AdvanceOnParseFailure: true})
		Expect(e.ExtractTopic(ctx, topic)).To(Succeed())

		memories, err := s.ListAllExtractedMemories(ctx, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(memories).To(HaveLen(1))

		refreshed, err := s.GetTopic(ctx, topic.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(refreshed.LastProcessedMessageID).NotTo(BeEmpty())
	})
})

var _ = Describe("Scheduler", func() {
	var (
		ctx   context.Context
		s     *store.Store
		chat  *testutils.MockChatClient
		sched *Scheduler
		topic *store.Topic
	)

	backdateActivity := func(topicID string, d time.Duration) {
		stamp := time.Now().Add(-d).UTC().Format(store.TimeLayout)
		_, err := s.DB().Exec(
			`UPDATE topics SET last_active_at = ? WHERE id = ?`, stamp, topicID,
		)
		Expect(err).NotTo(HaveOccurred())
	}

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		s, err = store.NewStore(":memory:", zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		chat = testutils.NewMockChatClient(`{"add":[],"update":[],"reason":"nothing"}`)
		extractor := NewExtractor(s, chat, nil, nil, nil, ExtractorConfig{AdvanceOnParseFailure: true}, zap.NewNop())
		sched = NewScheduler(s, extractor, SchedulerConfig{Enabled: true, SilentMinutes: 2}, zap.NewNop())

		topic, err = s.CreateTopic(ctx, "", "quiet topic")
		Expect(err).NotTo(HaveOccurred())
		_, err = s.CreateMessage(ctx, topic.ID, "user", "remember this")
		Expect(err).NotTo(HaveOccurred())
		Expect(s.TouchActivity(ctx, topic.ID)).To(Succeed())
	})

	AfterEach(func() {
		s.Close()
	})

	It("skips topics still inside the silence window", func() {
		Expect(sched.Sweep(ctx)).To(Succeed())
		Expect(chat.Prompts).To(BeEmpty())
	})

	It("extracts topics silent past the threshold", func() {
		backdateActivity(topic.ID, 3*time.Minute)

		Expect(sched.Sweep(ctx)).To(Succeed())
		Expect(chat.Prompts).To(HaveLen(1))

		refreshed, err := s.GetTopic(ctx, topic.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(refreshed.LastProcessedMessageID).NotTo(BeEmpty())
	})

	It("honors the runtime kill switch", func() {
		backdateActivity(topic.ID, 3*time.Minute)
		Expect(s.SetSetting(ctx, store.SettingMemoryExtractionEnabled, "false")).To(Succeed())

		Expect(sched.Sweep(ctx)).To(Succeed())
		Expect(chat.Prompts).To(BeEmpty())
	})

	It("reads the silence window from settings", func() {
		backdateActivity(topic.ID, 3*time.Minute)
		Expect(s.SetSetting(ctx, store.SettingMemorySilentMinutes, "10")).To(Succeed())

		Expect(sched.Sweep(ctx)).To(Succeed())
		Expect(chat.Prompts).To(BeEmpty())
	})

	It("leaves processed topics alone on later sweeps", func() {
		backdateActivity(topic.ID, 3*time.Minute)

		Expect(sched.Sweep(ctx)).To(Succeed())
		Expect(chat.Prompts).To(HaveLen(1))

		Expect(sched.Sweep(ctx)).To(Succeed())
		Expect(chat.Prompts).To(HaveLen(1))
	})
})
