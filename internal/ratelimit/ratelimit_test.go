package ratelimit

import (
	"testing"
	"time"
)

func TestKeyedLimiter_AllowsUpToRate(t *testing.T) {
	l := New(5, time.Minute)
	for i := 0; i < 5; i++ {
		if !l.Allow("key-a") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if l.Allow("key-a") {
		t.Fatal("6th request should be denied")
	}
}

func TestKeyedLimiter_KeysAreIndependent(t *testing.T) {
	l := New(1, time.Minute)
	if !l.Allow("key-a") {
		t.Fatal("first request for key-a should be allowed")
	}
	if l.Allow("key-a") {
		t.Fatal("second request for key-a should be denied")
	}
	if !l.Allow("key-b") {
		t.Fatal("first request for key-b should be allowed regardless of key-a's state")
	}
}

func TestKeyedLimiter_SlidesWithTime(t *testing.T) {
	l := New(2, time.Minute)
	base := time.Now()

	if !l.AllowAt("key-a", base) {
		t.Fatal("1st request should be allowed")
	}
	if !l.AllowAt("key-a", base.Add(10*time.Second)) {
		t.Fatal("2nd request should be allowed")
	}
	if l.AllowAt("key-a", base.Add(20*time.Second)) {
		t.Fatal("3rd request within the window should be denied")
	}
	if !l.AllowAt("key-a", base.Add(61*time.Second)) {
		t.Fatal("request after the first hit has aged out should be allowed")
	}
}
