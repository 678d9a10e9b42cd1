package validation

import (
	"errors"
	"strings"
	"testing"
)

type sample struct {
	Nickname string `json:"nickname" validate:"required"`
	Content  string `json:"content" validate:"required,max=5"`
	Price    int64  `json:"price" validate:"gte=0"`
}

func TestValidateStruct(t *testing.T) {
	tests := []struct {
		name       string
		in         sample
		wantFields []string
	}{
		{"valid", sample{Nickname: "a", Content: "hello"}, nil},
		{"missing nickname", sample{Content: "x"}, []string{"nickname"}},
		{"content too long", sample{Nickname: "a", Content: "toolong"}, []string{"content"}},
		{"multibyte content counts characters", sample{Nickname: "a", Content: "禁忌之美！"}, nil},
		{"negative price", sample{Nickname: "a", Content: "x", Price: -1}, []string{"price"}},
		{"everything wrong", sample{Price: -5}, []string{"nickname", "content", "price"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(&tt.in)
			if len(tt.wantFields) == 0 {
				if err != nil {
					t.Fatalf("ValidateStruct() error = %v", err)
				}
				return
			}
			var verr *RequestValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("ValidateStruct() error = %v, want *RequestValidationError", err)
			}
			if len(verr.Fields) != len(tt.wantFields) {
				t.Fatalf("got %d field errors (%v), want %d", len(verr.Fields), verr, len(tt.wantFields))
			}
			for _, f := range tt.wantFields {
				if !verr.HasField(f) {
					t.Errorf("missing error for field %q in %v", f, verr)
				}
			}
		})
	}
}

func TestMessages(t *testing.T) {
	err := ValidateStruct(&sample{Nickname: "a", Content: "toolong"})
	if err == nil || !strings.Contains(err.Error(), "content must be at most 5 characters") {
		t.Errorf("message = %v", err)
	}
	err = ValidateStruct(&sample{Content: "x"})
	if err == nil || err.Error() != "nickname is required" {
		t.Errorf("message = %v", err)
	}
}

func TestGetValidatorSingleton(t *testing.T) {
	if GetValidator() != GetValidator() {
		t.Error("GetValidator() returned different instances")
	}
}
