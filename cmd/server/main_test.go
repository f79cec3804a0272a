package main

import (
	"testing"

	"apotek/backend/internal/config"
)

func TestValidateSecurityConfig(t *testing.T) {
	strong := "0123456789abcdef0123456789abcdef"

	cases := []struct {
		name    string
		cfg     config.Config
		wantErr bool
	}{
		{"short secret", config.Config{AuthSecret: "short"}, true},
		{"empty secret", config.Config{}, true},
		{"wildcard origin with database", config.Config{AuthSecret: strong, AllowedOrigin: "*", DatabaseURL: "postgres://x"}, true},
		{"wildcard origin in memory mode", config.Config{AuthSecret: strong, AllowedOrigin: "*"}, false},
		{"strong", config.Config{AuthSecret: strong, AllowedOrigin: "https://apotek.example", DatabaseURL: "postgres://x"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateSecurityConfig(tc.cfg)
			if (err != nil) != tc.wantErr {
				t.Fatalf("validateSecurityConfig() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
