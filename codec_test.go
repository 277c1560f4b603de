package surge

import "testing"

func TestDetectUnmarshal_JSON(t *testing.T) {
	var v map[string]int
	if err := detectUnmarshal([]byte(`  {"port": 8080}`), &v); err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if v["port"] != 8080 {
		t.Errorf("expected 8080, got %d", v["port"])
	}
}

func TestDetectUnmarshal_YAML(t *testing.T) {
	var v map[string]int
	if err := detectUnmarshal([]byte("port: 9090\n"), &v); err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if v["port"] != 9090 {
		t.Errorf("expected 9090, got %d", v["port"])
	}
}

func TestCodec_ContentTypes(t *testing.T) {
	if ct := (JSONCodec{}).ContentType(); ct != "application/json" {
		t.Errorf("unexpected JSON content type %q", ct)
	}
	if ct := (YAMLCodec{}).ContentType(); ct != "application/x-yaml" {
		t.Errorf("unexpected YAML content type %q", ct)
	}
}
