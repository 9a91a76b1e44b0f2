package etcd

import "testing"

func TestServiceKey(t *testing.T) {
	tests := []struct {
		name, addr, want string
	}{
		{"rag_service", "10.0.0.5:8000", "/rag_service/10.0.0.5:8000"},
		{"/rag_service/", "host:8000", "/rag_service/host:8000"},
	}
	for _, tt := range tests {
		if got := ServiceKey(tt.name, tt.addr); got != tt.want {
			t.Errorf("ServiceKey(%q, %q) = %q, want %q", tt.name, tt.addr, got, tt.want)
		}
	}
}
