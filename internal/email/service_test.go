package email

import (
	"net/smtp"
	"strings"
	"testing"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{
			name:     "empty config",
			config:   Config{},
			expected: false,
		},
		{
			name: "missing host",
			config: Config{
				Port: "587",
				From: "admin@dataset.studio",
			},
			expected: false,
		},
		{
			name: "missing port",
			config: Config{
				Host: "smtp.example.com",
				From: "admin@dataset.studio",
			},
			expected: false,
		},
		{
			name: "missing from",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
			},
			expected: false,
		},
		{
			name: "fully configured",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
				From: "admin@dataset.studio",
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestRenderVerificationTemplate(t *testing.T) {
	data := VerificationData{
		AppName:  "Dataset Studio",
		UserName: "Ada",
		Code:     "482913",
		Minutes:  15,
	}

	html, err := renderTemplate(verificationEmailTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "Dataset Studio") {
		t.Error("template should contain app name")
	}
	if !strings.Contains(html, "Ada") {
		t.Error("template should contain user name")
	}
	if !strings.Contains(html, "482913") {
		t.Error("template should contain the verification code")
	}
	if !strings.Contains(html, "15 minutes") {
		t.Error("template should mention expiration time")
	}
}

func TestRenderReviewOutcomeTemplate(t *testing.T) {
	merged, err := renderTemplate(reviewOutcomeEmailTemplate, ReviewOutcomeData{
		AppName:       "Dataset Studio",
		UserName:      "Ada",
		DatasetPath:   "multi-turn/chat.json",
		Outcome:       "merged",
		AcceptedCount: 4,
		RejectedCount: 1,
	})
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}
	if !strings.Contains(merged, "multi-turn/chat.json") {
		t.Error("template should contain the dataset path")
	}
	if !strings.Contains(merged, "Accepted samples: 4") {
		t.Error("merged template should contain accepted count")
	}

	rejected, err := renderTemplate(reviewOutcomeEmailTemplate, ReviewOutcomeData{
		AppName:     "Dataset Studio",
		UserName:    "Ada",
		DatasetPath: "multi-turn/chat.json",
		Outcome:     "rejected",
	})
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}
	if strings.Contains(rejected, "Accepted samples") {
		t.Error("rejected template should omit sample counts")
	}
}

func TestSendVerificationCodeMessage(t *testing.T) {
	var gotTo []string
	var gotMsg []byte
	svc := NewService(Config{
		Host:     "smtp.example.com",
		Port:     "587",
		From:     "admin@dataset.studio",
		FromName: "Dataset Studio",
	})
	svc.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotTo = to
		gotMsg = msg
		return nil
	}

	if err := svc.SendVerificationCode("ada@example.com", "Ada", "482913"); err != nil {
		t.Fatalf("SendVerificationCode() error = %v", err)
	}
	if len(gotTo) != 1 || gotTo[0] != "ada@example.com" {
		t.Fatalf("recipients = %v", gotTo)
	}
	body := string(gotMsg)
	if !strings.Contains(body, "From: Dataset Studio <admin@dataset.studio>") {
		t.Error("message should carry the display from header")
	}
	if !strings.Contains(body, "482913") {
		t.Error("message should contain the code")
	}
	if !strings.Contains(body, "multipart/alternative") {
		t.Error("message should be multipart")
	}
}

func TestSendEmailUnconfigured(t *testing.T) {
	svc := NewService(Config{})
	if err := svc.SendEmail([]string{"ada@example.com"}, "subject", "body"); err == nil {
		t.Fatal("expected SendEmail() to fail when unconfigured")
	}
}
