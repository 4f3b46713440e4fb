package database

import "testing"

func TestWithSimpleProtocol(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"postgres://u:p@h/db", "postgres://u:p@h/db?default_query_exec_mode=simple_protocol"},
		{"postgres://u:p@h/db?sslmode=require", "postgres://u:p@h/db?sslmode=require&default_query_exec_mode=simple_protocol"},
		{"postgres://h/db?default_query_exec_mode=exec", "postgres://h/db?default_query_exec_mode=exec"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := withSimpleProtocol(tt.in); got != tt.want {
				t.Errorf("withSimpleProtocol() = %q, want %q", got, tt.want)
			}
		})
	}
}
