package credentials

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/redis/go-redis/v9"
)

func TestValidAndKnown(t *testing.T) {
	s, err := New("door", []string{"alice:pw1", "bob:pw2"})
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		access, user string
		want         bool
	}{
		{"door", "alice:pw1", true},
		{"door", "bob:pw2", true},
		{"door", "alice:pw2", false},
		{"window", "alice:pw1", false},
		{"door", "alice", false},
		{"", "", false},
	}
	for _, c := range cases {
		if got := s.Valid(c.access, c.user); got != c.want {
			t.Errorf("Valid(%q, %q) = %v, want %v", c.access, c.user, got, c.want)
		}
	}
	if !s.Known("alice") || !s.Known("bob") || s.Known("carol") {
		t.Error("Known mismatch")
	}
	if got := s.Names(); !reflect.DeepEqual(got, []string{"alice", "bob"}) {
		t.Errorf("Names = %v", got)
	}
}

func TestNewRejects(t *testing.T) {
	if _, err := New("", []string{"a:b"}); !errors.Is(err, ErrNoAccessKey) {
		t.Errorf("empty access key: %v", err)
	}
	if _, err := New("k", nil); !errors.Is(err, ErrNoUsers) {
		t.Errorf("no users: %v", err)
	}
	if _, err := New("k", []string{":secret"}); !errors.Is(err, ErrBadUserKey) {
		t.Errorf("empty name: %v", err)
	}
	if _, err := New("k", []string{"nosecret"}); !errors.Is(err, ErrBadUserKey) {
		t.Errorf("missing colon: %v", err)
	}
}

func TestUsername(t *testing.T) {
	if got := Username("alice:pw:with:colons"); got != "alice" {
		t.Errorf("got %q", got)
	}
	if got := Username("plain"); got != "plain" {
		t.Errorf("got %q", got)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "users")
	body := "# relay users\nalice:pw1\n\n  bob:pw2  \n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := LoadFile("door", path, []string{"carol:pw3"})
	if err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"alice:pw1", "bob:pw2", "carol:pw3"} {
		if !s.Valid("door", k) {
			t.Errorf("%s not loaded", k)
		}
	}
	if _, err := LoadFile("door", filepath.Join(dir, "missing"), nil); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParseUserKeys(t *testing.T) {
	keys, err := ParseUserKeys(strings.NewReader("a:1\r\n#x\nb:2"))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(keys, []string{"a:1", "b:2"}) {
		t.Errorf("got %v", keys)
	}
}

// Runs only when a Redis instance is provided through HUSKY_TEST_REDIS.
func TestLoadRedis(t *testing.T) {
	addr := os.Getenv("HUSKY_TEST_REDIS")
	if addr == "" {
		t.Skip("HUSKY_TEST_REDIS not set")
	}
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	prefix := "husky-test-" + t.Name()
	defer rdb.Del(ctx, prefix+":access_key", prefix+":users")
	if err := rdb.Set(ctx, prefix+":access_key", "door", 0).Err(); err != nil {
		t.Fatal(err)
	}
	if err := rdb.SAdd(ctx, prefix+":users", "alice:pw1", "bob:pw2").Err(); err != nil {
		t.Fatal(err)
	}
	s, err := LoadRedis(ctx, RedisSource{Addr: addr, Prefix: prefix}, "")
	if err != nil {
		t.Fatal(err)
	}
	if !s.Valid("door", "alice:pw1") || !s.Known("bob") {
		t.Error("credentials not loaded from redis")
	}
}
