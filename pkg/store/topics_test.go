package store_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/secondme/secondme/pkg/store"
)

var _ = Describe("Topics", func() {
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

	It("creates and fetches a topic", func() {
		t, err := s.CreateTopic(ctx, "u1", "my topic")
		Expect(err).NotTo(HaveOccurred())
		Expect(t.ID).NotTo(BeEmpty())

		got, err := s.GetTopic(ctx, t.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Title).To(Equal("my topic"))
		Expect(got.UserID).To(Equal("u1"))
		Expect(got.IsFlowmo).To(BeFalse())
	})

	It("defaults an empty title", func() {
		t, err := s.CreateTopic(ctx, "", "")
		Expect(err).NotTo(HaveOccurred())
		Expect(t.Title).To(Equal("New topic"))
	})

	It("returns ErrNotFound for a missing topic", func() {
		_, err := s.GetTopic(ctx, "nope")
		Expect(err).To(MatchError(store.ErrNotFound))
	})

	It("scopes listings by user and lists all for the empty user", func() {
		_, err := s.CreateTopic(ctx, "u1", "a")
		Expect(err).NotTo(HaveOccurred())
		_, err = s.CreateTopic(ctx, "u2", "b")
		Expect(err).NotTo(HaveOccurred())

		mine, err := s.ListTopics(ctx, "u1")
		Expect(err).NotTo(HaveOccurred())
		Expect(mine).To(HaveLen(1))
		Expect(mine[0].Title).To(Equal("a"))

		all, err := s.ListTopics(ctx, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(all).To(HaveLen(2))
	})

	It("renames a topic", func() {
		t, err := s.CreateTopic(ctx, "", "old")
		Expect(err).NotTo(HaveOccurred())

		renamed, err := s.RenameTopic(ctx, t.ID, "new")
		Expect(err).NotTo(HaveOccurred())
		Expect(renamed.Title).To(Equal("new"))

		_, err = s.RenameTopic(ctx, "nope", "x")
		Expect(err).To(MatchError(store.ErrNotFound))
	})

	It("deletes a topic and cascades its messages", func() {
		t, err := s.CreateTopic(ctx, "", "doomed")
		Expect(err).NotTo(HaveOccurred())
		_, err = s.CreateMessage(ctx, t.ID, "user", "hello")
		Expect(err).NotTo(HaveOccurred())

		Expect(s.DeleteTopic(ctx, t.ID)).To(Succeed())

		msgs, err := s.ListMessages(ctx, t.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(BeEmpty())
	})

	It("keeps one flowmo topic per user", func() {
		first, err := s.GetOrCreateFlowmoTopic(ctx, "u1")
		Expect(err).NotTo(HaveOccurred())
		Expect(first.IsFlowmo).To(BeTrue())
		Expect(first.Title).To(Equal(store.FlowmoTopicTitle))

		second, err := s.GetOrCreateFlowmoTopic(ctx, "u1")
		Expect(err).NotTo(HaveOccurred())
		Expect(second.ID).To(Equal(first.ID))

		other, err := s.GetOrCreateFlowmoTopic(ctx, "u2")
		Expect(err).NotTo(HaveOccurred())
		Expect(other.ID).NotTo(Equal(first.ID))
	})

	Describe("extraction eligibility", func() {
		var topic *store.Topic

		backdateActivity := func(topicID string, d time.Duration) {
			stamp := time.Now().Add(-d).UTC().Format(store.TimeLayout)
			_, err := s.DB().Exec(
				`UPDATE topics SET last_active_at = ? WHERE id = ?`, stamp, topicID,
			)
			Expect(err).NotTo(HaveOccurred())
		}

		BeforeEach(func() {
			var err error
			topic, err = s.CreateTopic(ctx, "", "t")
			Expect(err).NotTo(HaveOccurred())
		})

		It("ignores topics that were never active", func() {
			topics, err := s.EligibleTopics(ctx, time.Now())
			Expect(err).NotTo(HaveOccurred())
			Expect(topics).To(BeEmpty())
		})

		It("ignores recently active topics", func() {
			Expect(s.TouchActivity(ctx, topic.ID)).To(Succeed())

			topics, err := s.EligibleTopics(ctx, time.Now().Add(-time.Minute))
			Expect(err).NotTo(HaveOccurred())
			Expect(topics).To(BeEmpty())
		})

		It("returns topics silent past the threshold", func() {
			backdateActivity(topic.ID, 5*time.Minute)

			topics, err := s.EligibleTopics(ctx, time.Now().Add(-time.Minute))
			Expect(err).NotTo(HaveOccurred())
			Expect(topics).To(HaveLen(1))
			Expect(topics[0].ID).To(Equal(topic.ID))
		})

		It("treats a whole-second stamp as older than a later fractional one", func() {
			lastActive := time.Now().Add(-2 * time.Second).Truncate(time.Second)
			_, err := s.DB().Exec(
				`UPDATE topics SET last_active_at = ? WHERE id = ?`,
				lastActive.UTC().Format(store.TimeLayout), topic.ID,
			)
			Expect(err).NotTo(HaveOccurred())

			topics, err := s.EligibleTopics(ctx, lastActive.Add(500*time.Millisecond))
			Expect(err).NotTo(HaveOccurred())
			Expect(topics).To(HaveLen(1))
		})

		It("excludes topics already processed after their last activity", func() {
			backdateActivity(topic.ID, 5*time.Minute)
			Expect(s.MarkProcessed(ctx, topic.ID, "msg-1")).To(Succeed())

			topics, err := s.EligibleTopics(ctx, time.Now().Add(-time.Minute))
			Expect(err).NotTo(HaveOccurred())
			Expect(topics).To(BeEmpty())
		})

		It("re-includes topics active again after processing", func() {
			backdateActivity(topic.ID, 10*time.Minute)
			Expect(s.MarkProcessed(ctx, topic.ID, "msg-1")).To(Succeed())

			// New activity after the cursor, then silence again.
			_, err := s.DB().Exec(
				`UPDATE topics SET last_active_at = ? WHERE id = ?`,
				time.Now().Add(-3*time.Minute).UTC().Format(store.TimeLayout), topic.ID,
			)
			Expect(err).NotTo(HaveOccurred())
			_, err = s.DB().Exec(
				`UPDATE topics SET memory_processed_at = ? WHERE id = ?`,
				time.Now().Add(-8*time.Minute).UTC().Format(store.TimeLayout), topic.ID,
			)
			Expect(err).NotTo(HaveOccurred())

			topics, err := s.EligibleTopics(ctx, time.Now().Add(-time.Minute))
			Expect(err).NotTo(HaveOccurred())
			Expect(topics).To(HaveLen(1))
		})
	})
})

var _ = Describe("Messages", func() {
	var (
		ctx   context.Context
		s     *store.Store
		topic *store.Topic
	)

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		s, err = store.NewStore(":memory:", zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		topic, err = s.CreateTopic(ctx, "", "t")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		s.Close()
	})

	seed := func(contents ...string) []store.Message {
		msgs := make([]store.Message, 0, len(contents))
		for i, c := range contents {
			role := "user"
			if i%2 == 1 {
				role = "assistant"
			}
			m, err := s.CreateMessage(ctx, topic.ID, role, c)
			Expect(err).NotTo(HaveOccurred())
			msgs = append(msgs, *m)
		}
		return msgs
	}

	It("lists messages oldest first", func() {
		seed("one", "two", "three")

		msgs, err := s.ListMessages(ctx, topic.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(HaveLen(3))
		Expect(msgs[0].Content).To(Equal("one"))
		Expect(msgs[2].Content).To(Equal("three"))
	})

	It("counts messages", func() {
		seed("one", "two")
		n, err := s.MessageCount(ctx, topic.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(2))
	})

	It("treats every message as unprocessed before the first cursor", func() {
		seed("one", "two")

		fresh, err := s.UnprocessedMessages(ctx, topic)
		Expect(err).NotTo(HaveOccurred())
		Expect(fresh).To(HaveLen(2))
	})

	It("returns only messages past the cursor", func() {
		msgs := seed("one", "two", "three")
		topic.LastProcessedMessageID = msgs[1].ID

		fresh, err := s.UnprocessedMessages(ctx, topic)
		Expect(err).NotTo(HaveOccurred())
		Expect(fresh).To(HaveLen(1))
		Expect(fresh[0].Content).To(Equal("three"))
	})

	It("returns no context before the first cursor", func() {
		seed("one", "two")

		contextMsgs, err := s.ContextMessages(ctx, topic.ID, "", 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(contextMsgs).To(BeEmpty())
	})

	It("returns capped context before the cursor in chronological order", func() {
		msgs := seed("one", "two", "three", "four")

		contextMsgs, err := s.ContextMessages(ctx, topic.ID, msgs[2].ID, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(contextMsgs).To(HaveLen(2))
		Expect(contextMsgs[0].Content).To(Equal("two"))
		Expect(contextMsgs[1].Content).To(Equal("three"))
	})
})
