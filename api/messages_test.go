package api

import (
	"context"
	"io"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/secondme/secondme/pkg/memory"
	"github.com/secondme/secondme/pkg/store"
)

var _ = Describe("Topics", func() {
	var (
		ts    *testServer
		token string
	)

	BeforeEach(func() {
		ts = newTestServer(Config{}, nil)
		token = ts.register("alice")
	})

	AfterEach(func() {
		ts.store.Close()
	})

	createTopic := func(title string) store.Topic {
		resp := ts.request(http.MethodPost, "/api/topics", token, map[string]string{"title": title})
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		var topic store.Topic
		decodeBody(resp, &topic)
		return topic
	}

	It("creates, lists, renames and deletes topics", func() {
		topic := createTopic("reading notes")

		resp := ts.request(http.MethodGet, "/api/topics", token, nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		var listing struct {
			Topics []store.Topic `json:"topics"`
		}
		decodeBody(resp, &listing)
		Expect(listing.Topics).To(HaveLen(1))

		resp = ts.request(http.MethodPut, "/api/topics/"+topic.ID, token, map[string]string{"title": "renamed"})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		resp = ts.request(http.MethodDelete, "/api/topics/"+topic.ID, token, nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		resp = ts.request(http.MethodGet, "/api/topics/"+topic.ID+"/messages", token, nil)
		Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
	})

	It("denies access to another user's topic", func() {
		topic := createTopic("private")
		otherToken := ts.register("bob")

		resp := ts.request(http.MethodGet, "/api/topics/"+topic.ID+"/messages", otherToken, nil)
		Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
	})
})

var _ = Describe("Serving path", func() {
	var (
		ts    *testServer
		token string
	)

	BeforeEach(func() {
		ts = newTestServer(Config{}, func(t *testServer) Pipeline {
			return Pipeline{
				Retriever: memory.NewRetriever(t.embedder, t.memories, t.flowmos, zap.NewNop()),
				Embedder:  t.embedder,
				Memories:  t.memories,
				Flowmos:   t.flowmos,
			}
		})
		token = ts.register("alice")
	})

	AfterEach(func() {
		ts.store.Close()
	})

	createTopic := func() store.Topic {
		resp := ts.request(http.MethodPost, "/api/topics", token, map[string]string{"title": "chat"})
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		var topic store.Topic
		decodeBody(resp, &topic)
		return topic
	}

	It("persists both turns and touches activity", func() {
		topic := createTopic()
		ts.chat.Responses = []string{"hello back", "Chat Title"}

		resp := ts.request(http.MethodPost, "/api/topics/"+topic.ID+"/messages", token,
			map[string]string{"content": "hello"})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var body sendMessageResponse
		decodeBody(resp, &body)
		Expect(body.UserMessage.Content).To(Equal("hello"))
		Expect(body.AssistantMessage.Content).To(Equal("hello back"))

		refreshed, err := ts.store.GetTopic(context.Background(), topic.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(refreshed.LastActiveAt).NotTo(BeNil())
	})

	It("titles the topic after the first exchange", func() {
		topic := createTopic()
		ts.chat.Responses = []string{"hello back", "Chat Title"}

		resp := ts.request(http.MethodPost, "/api/topics/"+topic.ID+"/messages", token,
			map[string]string{"content": "hello"})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var body sendMessageResponse
		decodeBody(resp, &body)
		Expect(body.TopicTitleUpdated).To(BeTrue())
		Expect(body.NewTitle).To(Equal("Chat Title"))

		refreshed, err := ts.store.GetTopic(context.Background(), topic.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(refreshed.Title).To(Equal("Chat Title"))
	})

	It("does not retitle later exchanges", func() {
		topic := createTopic()
		ts.chat.Responses = []string{"one", "Title", "two"}

		resp := ts.request(http.MethodPost, "/api/topics/"+topic.ID+"/messages", token,
			map[string]string{"content": "first"})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		resp = ts.request(http.MethodPost, "/api/topics/"+topic.ID+"/messages", token,
			map[string]string{"content": "second"})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var body sendMessageResponse
		decodeBody(resp, &body)
		Expect(body.TopicTitleUpdated).To(BeFalse())
	})

	It("grounds replies on retrieved memories and records usage", func() {
		topic := createTopic()

		m, err := ts.store.CreateManualMemory(context.Background(), "", "alice likes tea")
		Expect(err).NotTo(HaveOccurred())
		ts.memories.Results = append(ts.memories.Results, queryResultFor(m.ID, "alice likes tea", 0.1))

		ts.chat.Responses = []string{"enjoy your tea", "Tea Talk"}

		resp := ts.request(http.MethodPost, "/api/topics/"+topic.ID+"/messages", token,
			map[string]string{"content": "what do I drink?"})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var body sendMessageResponse
		decodeBody(resp, &body)
		Expect(body.MemoriesUsed).To(ConsistOf(m.ID))

		Expect(ts.chat.Systems[0]).To(ContainSubstring("alice likes tea"))

		got, err := ts.store.GetMemory(context.Background(), m.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.UseCount).To(Equal(1))
	})

	It("degrades to an ungrounded reply when retrieval fails", func() {
		topic := createTopic()
		ts.memories.FailQuery = true
		ts.chat.Responses = []string{"plain reply", "Title"}

		resp := ts.request(http.MethodPost, "/api/topics/"+topic.ID+"/messages", token,
			map[string]string{"content": "hello"})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var body sendMessageResponse
		decodeBody(resp, &body)
		Expect(body.MemoriesUsed).To(BeEmpty())
		Expect(ts.chat.Systems[0]).To(BeEmpty())
	})

	It("returns 503 when the chat model fails", func() {
		topic := createTopic()
		ts.chat.Err = io.ErrUnexpectedEOF

		resp := ts.request(http.MethodPost, "/api/topics/"+topic.ID+"/messages", token,
			map[string]string{"content": "hello"})
		Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
	})

	It("rejects empty content", func() {
		topic := createTopic()
		resp := ts.request(http.MethodPost, "/api/topics/"+topic.ID+"/messages", token,
			map[string]string{"content": ""})
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
	})
})

var _ = Describe("Flowmo serving path", func() {
	var (
		ts    *testServer
		token string
	)

	BeforeEach(func() {
		ts = newTestServer(Config{}, func(t *testServer) Pipeline {
			return Pipeline{
				Embedder: t.embedder,
				Memories: t.memories,
				Flowmos:  t.flowmos,
			}
		})
		// The segmenter needs the server's store, which exists only after
		// newTestServer; wire it afterwards.
		ts.server.pipeline.Segmenter = memory.NewSegmenter(ts.store, ts.embedder, ts.flowmos, 5*time.Minute, zap.NewNop())
		token = ts.register("alice")
	})

	AfterEach(func() {
		ts.store.Close()
	})

	It("captures the entry, keeps the title, and uses the reflective prompt", func() {
		resp := ts.request(http.MethodGet, "/api/flowmo/topic", token, nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		var topic store.Topic
		decodeBody(resp, &topic)
		Expect(topic.IsFlowmo).To(BeTrue())

		ts.chat.Response = "that sounds lovely"

		resp = ts.request(http.MethodPost, "/api/topics/"+topic.ID+"/messages", token,
			map[string]string{"content": "had a calm morning walk"})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var body sendMessageResponse
		decodeBody(resp, &body)
		Expect(body.TopicTitleUpdated).To(BeFalse())

		Expect(ts.chat.Systems[0]).To(Equal(memory.FlowmoSystemPrompt))

		flowmos, total, err := ts.store.ListFlowmos(context.Background(), "", 1, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(total).To(Equal(1))
		Expect(flowmos[0].Content).To(Equal("had a calm morning walk"))
		Expect(flowmos[0].Source).To(Equal(store.SourceChat))

		Expect(ts.flowmos.Upserted).To(HaveLen(1))

		refreshed, err := ts.store.GetTopic(context.Background(), topic.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(refreshed.Title).To(Equal(store.FlowmoTopicTitle))
	})

	It("does not capture a quick follow-up message", func() {
		resp := ts.request(http.MethodGet, "/api/flowmo/topic", token, nil)
		var topic store.Topic
		decodeBody(resp, &topic)

		for _, content := range []string{"first note", "second note"} {
			resp = ts.request(http.MethodPost, "/api/topics/"+topic.ID+"/messages", token,
				map[string]string{"content": content})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		}

		_, total, err := ts.store.ListFlowmos(context.Background(), "", 1, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(total).To(Equal(1))
	})
})

var _ = Describe("Streamed serving path", func() {
	var (
		ts    *testServer
		token string
	)

	BeforeEach(func() {
		ts = newTestServer(Config{}, nil)
		token = ts.register("alice")
	})

	AfterEach(func() {
		ts.store.Close()
	})

	It("emits user_message, chunks and done, and persists the reply", func() {
		resp := ts.request(http.MethodPost, "/api/topics", token, map[string]string{"title": "chat"})
		var topic store.Topic
		decodeBody(resp, &topic)

		ts.chat.Responses = []string{"streamed reply", "Title"}

		resp = ts.request(http.MethodPost, "/api/topics/"+topic.ID+"/messages/stream", token,
			map[string]string{"content": "hello"})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(resp.Header.Get("Content-Type")).To(ContainSubstring("text/event-stream"))

		data, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		body := string(data)
		Expect(body).To(ContainSubstring(`"type":"user_message"`))
		Expect(body).To(ContainSubstring(`"type":"chunk"`))
		Expect(body).To(ContainSubstring("streamed reply"))
		Expect(body).To(ContainSubstring(`"type":"done"`))

		msgs, err := ts.store.ListMessages(context.Background(), topic.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(HaveLen(2))
		Expect(msgs[1].Content).To(Equal("streamed reply"))
	})
})
