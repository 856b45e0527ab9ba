package api

import (
	"context"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/secondme/secondme/pkg/store"
)

var _ = Describe("Memories API", func() {
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
		token = ts.register("alice")
	})

	AfterEach(func() {
		ts.store.Close()
	})

	createMemory := func(content string) store.Memory {
		resp := ts.request(http.MethodPost, "/api/memories", token, map[string]string{"content": content})
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		var m store.Memory
		decodeBody(resp, &m)
		return m
	}

	It("creates a manual memory and indexes its vector", func() {
		m := createMemory("drinks tea in the morning")
		Expect(m.Source).To(Equal(store.SourceManual))
		Expect(m.MemoryType).To(Equal(store.MemoryTypeChat))

		Expect(ts.memories.Upserted).To(HaveLen(1))
		Expect(ts.memories.Upserted[0].ID).To(Equal(m.ID))
		Expect(ts.memories.Upserted[0].Text).To(Equal("drinks tea in the morning"))
	})

	It("rejects an empty memory", func() {
		resp := ts.request(http.MethodPost, "/api/memories", token, map[string]string{"content": ""})
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
	})

	It("lists with paging and totals", func() {
		for _, content := range []string{"one", "two", "three"} {
			createMemory(content)
		}

		resp := ts.request(http.MethodGet, "/api/memories?page=1&page_size=2", token, nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		var listing struct {
			Memories []store.Memory `json:"memories"`
			Total    int            `json:"total"`
		}
		decodeBody(resp, &listing)
		Expect(listing.Memories).To(HaveLen(2))
		Expect(listing.Total).To(Equal(3))
	})

	It("updates content and re-indexes", func() {
		m := createMemory("old content")

		resp := ts.request(http.MethodPut, "/api/memories/"+m.ID, token, map[string]string{"content": "new content"})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		var updated store.Memory
		decodeBody(resp, &updated)
		Expect(updated.Content).To(Equal("new content"))

		Expect(ts.memories.Upserted).To(HaveLen(2))
		Expect(ts.memories.Upserted[1].Text).To(Equal("new content"))
	})

	It("deletes a memory along with its vector", func() {
		m := createMemory("short lived")

		resp := ts.request(http.MethodDelete, "/api/memories/"+m.ID, token, nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(ts.memories.Deleted).To(ContainElement(m.ID))

		_, err := ts.store.GetMemory(context.Background(), m.ID)
		Expect(err).To(MatchError(store.ErrNotFound))
	})

	It("deletes all memories for the caller only", func() {
		aliceMem := createMemory("alice's memory")

		bobToken := ts.register("bob")
		resp := ts.request(http.MethodPost, "/api/memories", bobToken, map[string]string{"content": "bob's memory"})
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		var bobMem store.Memory
		decodeBody(resp, &bobMem)

		resp = ts.request(http.MethodDelete, "/api/memories/all", token, nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		var result struct {
			Deleted int `json:"deleted"`
		}
		decodeBody(resp, &result)
		Expect(result.Deleted).To(Equal(1))
		Expect(ts.memories.Deleted).To(ConsistOf(aliceMem.ID))

		_, err := ts.store.GetMemory(context.Background(), bobMem.ID)
		Expect(err).NotTo(HaveOccurred())
	})

	It("returns 404 for an unknown memory", func() {
		resp := ts.request(http.MethodGet, "/api/memories/nope/usage", token, nil)
		Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
	})

	It("denies access to another user's memory", func() {
		m := createMemory("private")
		bobToken := ts.register("bob")

		resp := ts.request(http.MethodDelete, "/api/memories/"+m.ID, bobToken, nil)
		Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
	})

	It("returns usage history", func() {
		m := createMemory("used memory")

		topic, err := ts.store.CreateTopic(context.Background(), "", "chat")
		Expect(err).NotTo(HaveOccurred())
		msg, err := ts.store.CreateMessage(context.Background(), topic.ID, "assistant", "reply")
		Expect(err).NotTo(HaveOccurred())
		Expect(ts.store.RecordMemoryUsage(context.Background(), m.ID, topic.ID, msg.ID)).To(Succeed())

		resp := ts.request(http.MethodGet, "/api/memories/"+m.ID+"/usage", token, nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		var body struct {
			Usage []store.MemoryUsage `json:"usage"`
		}
		decodeBody(resp, &body)
		Expect(body.Usage).To(HaveLen(1))
		Expect(body.Usage[0].TopicID).To(Equal(topic.ID))
	})
})

var _ = Describe("Flowmos API", func() {
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
		token = ts.register("alice")
	})

	AfterEach(func() {
		ts.store.Close()
	})

	It("records a direct entry and indexes it", func() {
		resp := ts.request(http.MethodPost, "/api/flowmos", token, map[string]string{"content": "quiet evening"})
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		var f store.Flowmo
		decodeBody(resp, &f)
		Expect(f.Source).To(Equal(store.SourceDirect))

		Expect(ts.flowmos.Upserted).To(HaveLen(1))
		Expect(ts.flowmos.Upserted[0].ID).To(Equal(f.ID))
	})

	It("lists entries with totals", func() {
		for _, content := range []string{"one", "two"} {
			resp := ts.request(http.MethodPost, "/api/flowmos", token, map[string]string{"content": content})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		}

		resp := ts.request(http.MethodGet, "/api/flowmos", token, nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		var listing struct {
			Flowmos []store.Flowmo `json:"flowmos"`
			Total   int            `json:"total"`
		}
		decodeBody(resp, &listing)
		Expect(listing.Total).To(Equal(2))
	})

	It("deletes one entry along with its vector", func() {
		resp := ts.request(http.MethodPost, "/api/flowmos", token, map[string]string{"content": "gone soon"})
		var f store.Flowmo
		decodeBody(resp, &f)

		resp = ts.request(http.MethodDelete, "/api/flowmos/"+f.ID, token, nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(ts.flowmos.Deleted).To(ContainElement(f.ID))
	})

	It("deletes all entries for the caller", func() {
		resp := ts.request(http.MethodPost, "/api/flowmos", token, map[string]string{"content": "one"})
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))

		resp = ts.request(http.MethodDelete, "/api/flowmos/all", token, nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		_, total, err := ts.store.ListFlowmos(context.Background(), "", 1, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(total).To(Equal(0))
	})
})

var _ = Describe("Settings API", func() {
	var (
		ts         *testServer
		adminToken string
		userToken  string
	)

	BeforeEach(func() {
		ts = newTestServer(Config{}, nil)
		adminToken = ts.register("admin")
		userToken = ts.register("bob")
	})

	AfterEach(func() {
		ts.store.Close()
	})

	It("round-trips settings through the API", func() {
		resp := ts.request(http.MethodPut, "/api/settings", adminToken,
			map[string]string{store.SettingMemoryTopK: "7"})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		resp = ts.request(http.MethodGet, "/api/settings", userToken, nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		var body struct {
			Settings map[string]string `json:"settings"`
		}
		decodeBody(resp, &body)
		Expect(body.Settings).To(HaveKeyWithValue(store.SettingMemoryTopK, "7"))
	})

	It("rejects unknown keys", func() {
		resp := ts.request(http.MethodPut, "/api/settings", adminToken,
			map[string]string{"no_such_key": "1"})
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
	})

	It("requires admin for updates", func() {
		resp := ts.request(http.MethodPut, "/api/settings", userToken,
			map[string]string{store.SettingMemoryTopK: "7"})
		Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
	})
})

var _ = Describe("Providers API", func() {
	var (
		ts         *testServer
		adminToken string
	)

	BeforeEach(func() {
		ts = newTestServer(Config{}, nil)
		adminToken = ts.register("admin")
	})

	AfterEach(func() {
		ts.store.Close()
	})

	It("creates, lists, updates and deletes providers without leaking keys", func() {
		resp := ts.request(http.MethodPost, "/api/providers", adminToken, map[string]any{
			"name":     "local-ollama",
			"base_url": "http://localhost:11434",
			"api_key":  "super-secret",
		})
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		var p store.Provider
		decodeBody(resp, &p)
		Expect(p.APIKey).To(BeEmpty())

		resp = ts.request(http.MethodGet, "/api/providers", adminToken, nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		var listing struct {
			Providers []store.Provider `json:"providers"`
		}
		decodeBody(resp, &listing)
		Expect(listing.Providers).To(HaveLen(1))
		Expect(listing.Providers[0].APIKey).To(BeEmpty())

		resp = ts.request(http.MethodPut, "/api/providers/"+p.ID, adminToken, map[string]any{
			"name":     "renamed",
			"base_url": "http://localhost:11434",
		})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		var updated store.Provider
		decodeBody(resp, &updated)
		Expect(updated.Name).To(Equal("renamed"))

		// The stored key survives an update with a blank key field.
		stored, err := ts.store.GetProvider(context.Background(), p.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.APIKey).To(Equal("super-secret"))

		resp = ts.request(http.MethodDelete, "/api/providers/"+p.ID, adminToken, nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		resp = ts.request(http.MethodDelete, "/api/providers/"+p.ID, adminToken, nil)
		Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
	})
})
