package api

import (
	"context"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/secondme/secondme/pkg/store"
)

var _ = Describe("Auth", func() {
	var ts *testServer

	BeforeEach(func() {
		ts = newTestServer(Config{}, nil)
	})

	AfterEach(func() {
		ts.store.Close()
	})

	It("responds to health checks without auth", func() {
		resp := ts.request(http.MethodGet, "/api/health", "", nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})

	It("registers the first account as admin and returns a usable token", func() {
		token := ts.register("alice")

		resp := ts.request(http.MethodGet, "/api/auth/me", token, nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var user store.User
		decodeBody(resp, &user)
		Expect(user.Username).To(Equal("alice"))
		Expect(user.Role).To(Equal(store.RoleAdmin))
	})

	It("rejects duplicate usernames", func() {
		ts.register("alice")
		resp := ts.request(http.MethodPost, "/api/auth/register", "", map[string]string{
			"username": "alice", "password": "other",
		})
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
	})

	It("logs in with valid credentials only", func() {
		ts.register("alice")

		resp := ts.request(http.MethodPost, "/api/auth/login", "", map[string]string{
			"username": "alice", "password": "password123",
		})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		resp = ts.request(http.MethodPost, "/api/auth/login", "", map[string]string{
			"username": "alice", "password": "wrong",
		})
		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
	})

	It("rejects requests without a token", func() {
		resp := ts.request(http.MethodGet, "/api/topics", "", nil)
		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
	})

	It("rejects garbage tokens", func() {
		resp := ts.request(http.MethodGet, "/api/topics", "not-a-token", nil)
		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
	})

	It("changes passwords after verifying the old one", func() {
		token := ts.register("alice")

		resp := ts.request(http.MethodPost, "/api/auth/password", token, map[string]string{
			"old_password": "wrong", "new_password": "next",
		})
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

		resp = ts.request(http.MethodPost, "/api/auth/password", token, map[string]string{
			"old_password": "password123", "new_password": "next",
		})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		resp = ts.request(http.MethodPost, "/api/auth/login", "", map[string]string{
			"username": "alice", "password": "next",
		})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})

	It("gates admin endpoints by role", func() {
		ts.register("admin")
		userToken := ts.register("bob")

		resp := ts.request(http.MethodGet, "/api/admin/users", userToken, nil)
		Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
	})

	Context("with invite-gated registration", func() {
		BeforeEach(func() {
			ts.store.Close()
			ts = newTestServer(Config{RequireInvite: true}, nil)
		})

		It("rejects registration without a valid code", func() {
			resp := ts.request(http.MethodPost, "/api/auth/register", "", map[string]string{
				"username": "alice", "password": "password123",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("accepts a valid code and consumes a use", func() {
			_, err := ts.store.CreateInviteCode(context.Background(), "WELCOME", "", 1, nil)
			Expect(err).NotTo(HaveOccurred())

			resp := ts.request(http.MethodPost, "/api/auth/register", "", map[string]string{
				"username": "alice", "password": "password123", "invite_code": "WELCOME",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			// Single-use code is now spent.
			resp = ts.request(http.MethodPost, "/api/auth/register", "", map[string]string{
				"username": "bob", "password": "password123", "invite_code": "WELCOME",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})
})

var _ = Describe("Admin", func() {
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

	It("lists users", func() {
		ts.register("bob")

		resp := ts.request(http.MethodGet, "/api/admin/users", adminToken, nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var body struct {
			Users []store.User `json:"users"`
			Total int          `json:"total"`
		}
		decodeBody(resp, &body)
		Expect(body.Total).To(Equal(2))
	})

	It("refuses self-deletion", func() {
		resp := ts.request(http.MethodGet, "/api/auth/me", adminToken, nil)
		var me store.User
		decodeBody(resp, &me)

		resp = ts.request(http.MethodDelete, "/api/admin/users/"+me.ID, adminToken, nil)
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
	})

	It("creates, lists and deletes invite codes", func() {
		resp := ts.request(http.MethodPost, "/api/admin/invites", adminToken, map[string]any{
			"code": "TEAM", "max_uses": 5,
		})
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))

		var ic store.InviteCode
		decodeBody(resp, &ic)
		Expect(ic.Code).To(Equal("TEAM"))
		Expect(ic.MaxUses).To(Equal(5))

		resp = ts.request(http.MethodGet, "/api/admin/invites", adminToken, nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		resp = ts.request(http.MethodDelete, "/api/admin/invites/"+ic.ID, adminToken, nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})

	It("rejects invalid invite expiry durations", func() {
		resp := ts.request(http.MethodPost, "/api/admin/invites", adminToken, map[string]any{
			"expires_in": "tomorrow",
		})
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
	})
})
