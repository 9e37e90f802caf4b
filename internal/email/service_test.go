package email

import (
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
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing port",
			config: Config{
				Host: "smtp.example.com",
				From: "test@example.com",
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
				From: "test@example.com",
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
	data := linkEmailData{
		AppName:  "Backlog",
		UserName: "Test User",
		URL:      "https://example.com/verify?token=abc123",
	}

	html, err := renderTemplate(verificationEmailTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "Backlog") {
		t.Error("template should contain app name")
	}
	if !strings.Contains(html, "Test User") {
		t.Error("template should contain user name")
	}
	if !strings.Contains(html, "https://example.com/verify?token=abc123") {
		t.Error("template should contain verification URL")
	}
	if !strings.Contains(html, "24 hours") {
		t.Error("template should mention expiration time")
	}
}

func TestRenderPasswordResetTemplate(t *testing.T) {
	data := linkEmailData{
		AppName:  "Backlog",
		UserName: "Test User",
		URL:      "https://example.com/reset?token=xyz789",
	}

	html, err := renderTemplate(passwordResetEmailTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "Backlog") {
		t.Error("template should contain app name")
	}
	if !strings.Contains(html, "Test User") {
		t.Error("template should contain user name")
	}
	if !strings.Contains(html, "https://example.com/reset?token=xyz789") {
		t.Error("template should contain reset URL")
	}
	if !strings.Contains(html, "1 hour") {
		t.Error("template should mention expiration time")
	}
}

func TestRenderTeamInviteTemplate(t *testing.T) {
	data := inviteEmailData{
		AppName:     "Backlog",
		TeamName:    "Platform Team",
		InviterName: "Alice",
		Role:        "ADMIN",
		AcceptURL:   "https://example.com/invites/tok123/accept",
	}

	html, err := renderTemplate(teamInviteEmailTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "Platform Team") {
		t.Error("template should contain team name")
	}
	if !strings.Contains(html, "Alice") {
		t.Error("template should contain inviter name")
	}
	if !strings.Contains(html, "ADMIN") {
		t.Error("template should contain role")
	}
	if !strings.Contains(html, "https://example.com/invites/tok123/accept") {
		t.Error("template should contain accept URL")
	}
}

func TestRenderTeamNoticeTemplate(t *testing.T) {
	data := noticeEmailData{
		AppName:  "Backlog",
		UserName: "Bob",
		TeamName: "Platform Team",
		Message:  "Your role has been changed to ADMIN.",
	}

	html, err := renderTemplate(teamNoticeEmailTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "Bob") {
		t.Error("template should contain user name")
	}
	if !strings.Contains(html, "Your role has been changed to ADMIN.") {
		t.Error("template should contain the message")
	}
}

func TestSendEmailNotConfigured(t *testing.T) {
	svc := NewService(Config{})

	if err := svc.SendEmail([]string{"a@example.com"}, "subj", "body"); err == nil {
		t.Error("expected error when not configured")
	}
	if err := svc.SendHTMLEmail([]string{"a@example.com"}, "subj", "<p>body</p>"); err == nil {
		t.Error("expected error when not configured")
	}
}
