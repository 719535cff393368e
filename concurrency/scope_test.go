package concurrency

import (
	"errors"
	"testing"

	"github.com/xraph/runqueue"
	"github.com/xraph/runqueue/keys"
)

func TestScope_Validate(t *testing.T) {
	env := keys.Env{OrgID: "o", ProjectID: "p", EnvID: "e"}
	tests := []struct {
		name    string
		scope   Scope
		wantErr bool
	}{
		{"env", EnvScope(env), false},
		{"queue", QueueScope(env, "q", ""), false},
		{"queue without name", QueueScope(env, "", ""), true},
		{"missing env", EnvScope(keys.Env{}), true},
		{"unknown kind", Scope{Kind: "other", Env: env}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.scope.Validate()
			if tt.wantErr != (err != nil) {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, runqueue.ErrInvalidScope) {
				t.Fatalf("expected ErrInvalidScope, got %v", err)
			}
		})
	}
}

func TestScope_Keys(t *testing.T) {
	env := keys.Env{OrgID: "o", ProjectID: "p", EnvID: "e"}
	p := keys.New("rq")

	cur, res, lim := EnvScope(env).Keys(p)
	if cur != p.EnvCurrentConcurrency(env) || res != p.EnvReserveConcurrency(env) || lim != p.EnvConcurrencyLimit(env) {
		t.Fatalf("unexpected env keys: %s %s %s", cur, res, lim)
	}

	cur, _, lim = QueueScope(env, "q", "ck").Keys(p)
	if cur != p.QueueCurrentConcurrency(env, "q", "ck") {
		t.Fatalf("unexpected queue current key: %s", cur)
	}
	if lim != p.QueueConcurrencyLimit(env, "q") {
		t.Fatalf("concurrency key must not change the limit key: %s", lim)
	}
}
