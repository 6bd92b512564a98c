package main

import (
	"errors"
	"testing"
	"time"
)

func TestTicketIssueVerify(t *testing.T) {
	ti := NewTicketIssuer("test-secret", time.Minute, nil, testLogger())
	tok, err := ti.Issue("abcde")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := ti.Verify(tok, "abcde"); err != nil {
		t.Errorf("valid ticket rejected: %v", err)
	}
	if err := ti.Verify(tok, "zzzzz"); !errors.Is(err, ErrInvalidTicket) {
		t.Errorf("ticket for another lobby should be invalid, got %v", err)
	}
	if err := ti.Verify("garbage", "abcde"); !errors.Is(err, ErrInvalidTicket) {
		t.Errorf("garbage should be invalid, got %v", err)
	}
	if err := ti.Verify("", "abcde"); !errors.Is(err, ErrInvalidTicket) {
		t.Errorf("empty ticket should be invalid, got %v", err)
	}
}

func TestTicketWrongSecret(t *testing.T) {
	a := NewTicketIssuer("secret-a", time.Minute, nil, testLogger())
	b := NewTicketIssuer("secret-b", time.Minute, nil, testLogger())
	tok, _ := a.Issue("abcde")
	if err := b.Verify(tok, "abcde"); !errors.Is(err, ErrInvalidTicket) {
		t.Errorf("ticket signed with another secret should fail, got %v", err)
	}
}

func TestTicketExpired(t *testing.T) {
	ti := NewTicketIssuer("test-secret", time.Nanosecond, nil, testLogger())
	tok, err := ti.Issue("abcde")
	if err != nil {
		t.Fatal(err)
	}
	// exp has one-second resolution
	time.Sleep(1100 * time.Millisecond)
	if err := ti.Verify(tok, "abcde"); !errors.Is(err, ErrInvalidTicket) {
		t.Errorf("expired ticket should fail, got %v", err)
	}
}

func TestTicketSecretPersisted(t *testing.T) {
	store := openTestStore(t)
	a := NewTicketIssuer("", time.Minute, store, testLogger())
	tok, _ := a.Issue("abcde")

	// A restarted server signs with the same stored secret
	b := NewTicketIssuer("", time.Minute, store, testLogger())
	if err := b.Verify(tok, "abcde"); err != nil {
		t.Errorf("ticket should survive a restart: %v", err)
	}
	if store.GetSetting(ticketSecretKey) == "" {
		t.Error("secret should be stored")
	}
}

func TestTicketAllow(t *testing.T) {
	ti := NewTicketIssuer("s", time.Minute, nil, testLogger())
	for i := 0; i < maxTicketsPerIP; i++ {
		if !ti.Allow("1.2.3.4") {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if ti.Allow("1.2.3.4") {
		t.Error("request past the limit should be refused")
	}
	if !ti.Allow("5.6.7.8") {
		t.Error("other IPs are limited separately")
	}
}
