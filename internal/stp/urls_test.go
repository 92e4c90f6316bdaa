package stp

import (
	"testing"

	"github.com/google/uuid"
)

func TestLastSegment(t *testing.T) {
	id := uuid.NewString()

	tests := []struct {
		name    string
		url     string
		want    string
		wantErr bool
	}{
		{name: "request url", url: NewURL("vendor.example.com:8080", RequestPath, id), want: id},
		{name: "trailing slash", url: "stp://vendor.example.com/api/stp/revision/" + id + "/", want: id},
		{name: "http scheme", url: "http://vendor.example.com/api/stp/request/" + id, wantErr: true},
		{name: "no host", url: "stp:///api/stp/request/" + id, wantErr: true},
		{name: "not a uuid", url: "stp://vendor.example.com/api/stp/request/42", wantErr: true},
		{name: "empty", url: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LastSegment(tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("LastSegment(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("LastSegment(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}

func TestToHTTP(t *testing.T) {
	id := uuid.NewString()
	stpURL := NewURL("bank.example.com", RemediationPath, id)

	got, err := ToHTTP(stpURL, "https")
	if err != nil {
		t.Fatalf("ToHTTP() error = %v", err)
	}
	if want := "https://bank.example.com/api/stp/remediation/" + id; got != want {
		t.Errorf("ToHTTP() = %q, want %q", got, want)
	}

	if _, err := ToHTTP("https://bank.example.com/x", "http"); err == nil {
		t.Errorf("expected an error for a non-stp URL")
	}
}
