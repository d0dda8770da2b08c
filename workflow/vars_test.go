package workflow

import "testing"

func TestVariablePool_Seeding(t *testing.T) {
	identity := SystemIdentity{
		UserID:              "user-1",
		AppID:               "app-1",
		WorkflowID:          "wf-1",
		WorkflowExecutionID: "run-1",
	}
	files := []FileHandle{{ID: "f1", Type: "image"}}
	pool := NewVariablePool(identity,
		map[string]any{"query": "hello"},
		files,
		map[string]any{"API_BASE": "https://api.example.com"},
		map[string]any{"topic": "weather"},
	)

	if v, _ := pool.Get([]string{SystemNamespace, SystemVarUserID}); v != "user-1" {
		t.Errorf("sys.user_id = %v", v)
	}
	if v, _ := pool.Get([]string{SystemNamespace, "query"}); v != "hello" {
		t.Errorf("sys.query = %v", v)
	}
	if v, _ := pool.Get([]string{EnvironmentNamespace, "API_BASE"}); v != "https://api.example.com" {
		t.Errorf("env.API_BASE = %v", v)
	}
	if v, _ := pool.Get([]string{ConversationNamespace, "topic"}); v != "weather" {
		t.Errorf("conv.topic = %v", v)
	}
	if v, ok := pool.Get([]string{SystemNamespace, SystemVarFiles}); !ok {
		t.Error("sys.files missing")
	} else if fh, ok := v.([]FileHandle); !ok || fh[0].ID != "f1" {
		t.Errorf("sys.files = %v", v)
	}
}

func TestVariablePool_AddGet(t *testing.T) {
	pool := NewVariablePool(SystemIdentity{}, nil, nil, nil, nil)

	t.Run("scalar", func(t *testing.T) {
		pool.Add([]string{"node", "key"}, "value")
		if v, ok := pool.Get([]string{"node", "key"}); !ok || v != "value" {
			t.Errorf("Get = %v, %v", v, ok)
		}
	})

	t.Run("deep selector", func(t *testing.T) {
		pool.Add([]string{"node", "a", "b", "c"}, 7)
		if v, _ := pool.Get([]string{"node", "a", "b", "c"}); v != 7 {
			t.Errorf("deep Get = %v", v)
		}
	})

	t.Run("missing path", func(t *testing.T) {
		if _, ok := pool.Get([]string{"node", "ghost"}); ok {
			t.Error("missing key should not resolve")
		}
		if _, ok := pool.Get([]string{"ghost", "key"}); ok {
			t.Error("missing namespace should not resolve")
		}
	})

	t.Run("short selector ignored", func(t *testing.T) {
		pool.Add([]string{"only"}, "x")
		if _, ok := pool.Get([]string{"only"}); ok {
			t.Error("one-element selector should not resolve")
		}
	})
}

func TestVariablePool_AddRecursively(t *testing.T) {
	pool := NewVariablePool(SystemIdentity{}, nil, nil, nil, nil)
	pool.AddRecursively("http", []string{"body"}, map[string]any{
		"status": "ok",
		"nested": map[string]any{"depth": 2},
	})

	if v, ok := pool.Get([]string{"http", "body"}); !ok {
		t.Error("http.body missing")
	} else if m, ok := v.(map[string]any); !ok || m["status"] != "ok" {
		t.Errorf("http.body = %v", v)
	}
	if v, _ := pool.Get([]string{"http", "body", "status"}); v != "ok" {
		t.Errorf("http.body.status = %v", v)
	}
	if v, _ := pool.Get([]string{"http", "body", "nested", "depth"}); v != 2 {
		t.Errorf("http.body.nested.depth = %v", v)
	}
}

func TestVariablePool_Remove(t *testing.T) {
	pool := NewVariablePool(SystemIdentity{}, nil, nil, nil, nil)
	pool.Add([]string{"node", "a"}, 1)
	pool.Add([]string{"node", "b"}, 2)

	pool.Remove([]string{"node", "a"})
	if _, ok := pool.Get([]string{"node", "a"}); ok {
		t.Error("removed key still resolves")
	}
	if _, ok := pool.Get([]string{"node", "b"}); !ok {
		t.Error("sibling key was removed")
	}

	pool.Remove([]string{"node"})
	if _, ok := pool.Get([]string{"node", "b"}); ok {
		t.Error("namespace removal left keys behind")
	}
}

func TestVariablePool_CloneIsolation(t *testing.T) {
	pool := NewVariablePool(SystemIdentity{}, nil, nil, nil, nil)
	pool.Add([]string{"node", "nested", "key"}, "original")

	clone := pool.Clone()
	clone.Add([]string{"node", "nested", "key"}, "changed")
	clone.Add([]string{"clone-only", "key"}, true)

	if v, _ := pool.Get([]string{"node", "nested", "key"}); v != "original" {
		t.Errorf("clone write leaked into source: %v", v)
	}
	if _, ok := pool.Get([]string{"clone-only", "key"}); ok {
		t.Error("clone-only namespace leaked into source")
	}
	if v, _ := clone.Get([]string{"node", "nested", "key"}); v != "changed" {
		t.Errorf("clone lost its own write: %v", v)
	}
}
