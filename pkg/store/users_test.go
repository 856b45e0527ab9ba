package store_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/secondme/secondme/pkg/store"
)

var _ = Describe("Users", func() {
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

	It("makes the first account the admin", func() {
		first, err := s.CreateUser(ctx, "alice", "secret")
		Expect(err).NotTo(HaveOccurred())
		Expect(first.Role).To(Equal(store.RoleAdmin))

		second, err := s.CreateUser(ctx, "bob", "secret")
		Expect(err).NotTo(HaveOccurred())
		Expect(second.Role).To(Equal(store.RoleUser))
	})

	It("rejects duplicate usernames", func() {
		_, err := s.CreateUser(ctx, "alice", "secret")
		Expect(err).NotTo(HaveOccurred())
		_, err = s.CreateUser(ctx, "alice", "other")
		Expect(err).To(HaveOccurred())
	})

	It("authenticates valid credentials only", func() {
		u, err := s.CreateUser(ctx, "alice", "secret")
		Expect(err).NotTo(HaveOccurred())

		got, err := s.Authenticate(ctx, "alice", "secret")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.ID).To(Equal(u.ID))

		_, err = s.Authenticate(ctx, "alice", "wrong")
		Expect(err).To(MatchError(store.ErrInvalidCredentials))

		_, err = s.Authenticate(ctx, "nobody", "secret")
		Expect(err).To(MatchError(store.ErrInvalidCredentials))
	})

	It("changes the password after verifying the old one", func() {
		u, err := s.CreateUser(ctx, "alice", "secret")
		Expect(err).NotTo(HaveOccurred())

		Expect(s.ChangePassword(ctx, u.ID, "wrong", "next")).To(MatchError(store.ErrInvalidCredentials))
		Expect(s.ChangePassword(ctx, u.ID, "secret", "next")).To(Succeed())

		_, err = s.Authenticate(ctx, "alice", "next")
		Expect(err).NotTo(HaveOccurred())
	})

	It("deletes accounts", func() {
		u, err := s.CreateUser(ctx, "alice", "secret")
		Expect(err).NotTo(HaveOccurred())

		Expect(s.DeleteUser(ctx, u.ID)).To(Succeed())
		Expect(s.DeleteUser(ctx, u.ID)).To(MatchError(store.ErrNotFound))
	})
})

var _ = Describe("Invite codes", func() {
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

	It("validates codes with uses remaining", func() {
		_, err := s.CreateInviteCode(ctx, "WELCOME", "", 2, nil)
		Expect(err).NotTo(HaveOccurred())

		ok, err := s.ValidInviteCode(ctx, "WELCOME")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())

		Expect(s.UseInviteCode(ctx, "WELCOME")).To(Succeed())
		Expect(s.UseInviteCode(ctx, "WELCOME")).To(Succeed())

		ok, err = s.ValidInviteCode(ctx, "WELCOME")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("rejects expired codes", func() {
		past := time.Now().Add(-time.Hour)
		_, err := s.CreateInviteCode(ctx, "OLD", "", 10, &past)
		Expect(err).NotTo(HaveOccurred())

		ok, err := s.ValidInviteCode(ctx, "OLD")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("rejects unknown codes without error", func() {
		ok, err := s.ValidInviteCode(ctx, "NOPE")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("lists and deletes codes", func() {
		ic, err := s.CreateInviteCode(ctx, "A", "", 1, nil)
		Expect(err).NotTo(HaveOccurred())

		codes, err := s.ListInviteCodes(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(codes).To(HaveLen(1))

		Expect(s.DeleteInviteCode(ctx, ic.ID)).To(Succeed())
		Expect(s.DeleteInviteCode(ctx, ic.ID)).To(MatchError(store.ErrNotFound))
	})
})
