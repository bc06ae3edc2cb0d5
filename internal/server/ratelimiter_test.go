package server

import (
	"testing"
	"time"
)

func TestRateLimiterWindow(t *testing.T) {
	limiter := NewRateLimiter(2, 50*time.Millisecond)
	if !limiter.Allow("ip") || !limiter.Allow("ip") {
		t.Fatalf("first two hits must pass")
	}
	if limiter.Allow("ip") {
		t.Fatalf("third hit inside the window must be rejected")
	}
	if !limiter.Allow("other") {
		t.Fatalf("keys are independent")
	}
	time.Sleep(60 * time.Millisecond)
	if !limiter.Allow("ip") {
		t.Fatalf("window must slide")
	}
}

func TestPresenceCounts(t *testing.T) {
	p := NewPresenceTracker()
	if p.Increment("alice") != 1 {
		t.Fatalf("first connection should count 1")
	}
	if p.Increment("alice") != 2 {
		t.Fatalf("second connection should count 2")
	}
	if p.Decrement("alice") != 1 {
		t.Fatalf("one terminal closed, one remains")
	}
	if !p.Online("alice") {
		t.Fatalf("still online with one connection")
	}
	if p.Decrement("alice") != 0 {
		t.Fatalf("last close should reach zero")
	}
	if p.Online("alice") {
		t.Fatalf("offline after last close")
	}
	if p.Decrement("ghost") != 0 {
		t.Fatalf("unknown user decrements to zero")
	}
}
