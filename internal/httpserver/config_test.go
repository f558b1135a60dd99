package httpserver

import (
	"testing"
	"time"
)

func TestConfigValidateAppliesDefaults(test *testing.T) {
	test.Parallel()
	cfg := Config{}
	if err := cfg.Validate(); err != nil {
		test.Fatalf("validate: %v", err)
	}
	if cfg.ListenAddr != defaultListenAddr {
		test.Fatalf("expected default listen addr %s, got %s", defaultListenAddr, cfg.ListenAddr)
	}
	if cfg.ShutdownTimeout != defaultShutdownTimeout {
		test.Fatalf("expected default shutdown timeout %v, got %v", defaultShutdownTimeout, cfg.ShutdownTimeout)
	}
}

func TestConfigValidateKeepsExplicitValues(test *testing.T) {
	test.Parallel()
	cfg := Config{ListenAddr: ":9000", ShutdownTimeout: 10 * time.Second}
	if err := cfg.Validate(); err != nil {
		test.Fatalf("validate: %v", err)
	}
	if cfg.ListenAddr != ":9000" || cfg.ShutdownTimeout != 10*time.Second {
		test.Fatalf("explicit values must survive validation: %+v", cfg)
	}
}

func TestParseAllowedOrigins(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "empty", raw: "", want: []string{}},
		{name: "single", raw: "https://example.com", want: []string{"https://example.com"}},
		{name: "multiple with spaces", raw: " https://a.example , https://b.example ", want: []string{"https://a.example", "https://b.example"}},
		{name: "trailing comma", raw: "https://a.example,", want: []string{"https://a.example"}},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			got := ParseAllowedOrigins(testCase.raw)
			if len(got) != len(testCase.want) {
				test.Fatalf("expected %v, got %v", testCase.want, got)
			}
			for index := range got {
				if got[index] != testCase.want[index] {
					test.Fatalf("expected %v, got %v", testCase.want, got)
				}
			}
		})
	}
}
