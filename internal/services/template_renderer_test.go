package services

import (
	"context"
	"testing"
	"time"

	"flowdesk/internal/models"

	"github.com/sirupsen/logrus"
)

func TestRenderTemplate(t *testing.T) {
	vars := map[string]string{
		"visitor_name": "Sam",
		"day_of_week":  "Tuesday",
		"visitor_city": "Berlin",
	}

	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "substitutes known tokens",
			text: "Hi @visitor_name, it's @day_of_week",
			want: "Hi Sam, it's Tuesday",
		},
		{
			name: "unknown token left verbatim",
			text: "Hello @unknown_token!",
			want: "Hello @unknown_token!",
		},
		{
			name: "token matching is case-insensitive",
			text: "Hi @Visitor_Name from @VISITOR_CITY",
			want: "Hi Sam from Berlin",
		},
		{
			name: "mixed known and unknown",
			text: "@visitor_name / @nope / @visitor_city",
			want: "Sam / @nope / Berlin",
		},
		{
			name: "text without tokens untouched",
			text: "plain text here",
			want: "plain text here",
		},
		{
			name: "lone at-sign untouched",
			text: "mail me @ home",
			want: "mail me @ home",
		},
		{
			name: "empty text",
			text: "",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RenderTemplate(tt.text, vars); got != tt.want {
				t.Errorf("RenderTemplate() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTemplateVarBuilder_Build(t *testing.T) {
	b := NewTemplateVarBuilder(&fakeLookupStore{}, logrus.New())
	ec := testEventContext(map[string]interface{}{
		"visitor": map[string]interface{}{
			"display_name": "王小明",
			"city":         "Shanghai",
			"page_count":   float64(3),
		},
	})

	vars := b.Build(context.Background(), ec)

	if vars["visitor_name"] != "王小明" {
		t.Errorf("visitor_name = %q", vars["visitor_name"])
	}
	if vars["visitor_city"] != "Shanghai" {
		t.Errorf("visitor_city = %q", vars["visitor_city"])
	}
	// 数值变量渲染成不带小数点的整数
	if vars["visitor_page_count"] != "3" {
		t.Errorf("visitor_page_count = %q, want 3", vars["visitor_page_count"])
	}
	if vars["day_of_week"] != "Tuesday" {
		t.Errorf("day_of_week = %q, want Tuesday", vars["day_of_week"])
	}
	if vars["hour_of_day"] != "14" {
		t.Errorf("hour_of_day = %q, want 14", vars["hour_of_day"])
	}
	// 解析不到的字段不应出现在变量表里
	if _, ok := vars["visitor_email"]; ok {
		t.Error("unresolved visitor_email should be absent")
	}
}

func TestTemplateVarBuilder_PageFallback(t *testing.T) {
	lookups := &fakeLookupStore{
		pageVisits: map[string]*models.PageVisit{
			"sess-1": {
				ID:          "pv-1",
				WorkspaceID: "ws-1",
				SessionID:   "sess-1",
				PageURL:     "https://shop.example.com/cart",
				PageTitle:   "Your Cart",
				Referrer:    "https://google.com",
			},
		},
	}
	b := NewTemplateVarBuilder(lookups, logrus.New())

	ec := &EventContext{
		WorkspaceID: "ws-1",
		EventType:   models.TriggerEventVisitorIdle,
		Timestamp:   time.Now(),
		Payload: map[string]interface{}{
			"session_id": "sess-1",
			// 事件自带标题，但缺 URL 与 referrer
			"page": map[string]interface{}{"page_title": "Checkout"},
		},
	}
	vars := b.Build(context.Background(), ec)

	if vars["visitor_page_title"] != "Checkout" {
		t.Errorf("event payload should win over stored visit, got %q", vars["visitor_page_title"])
	}
	if vars["visitor_page_url"] != "https://shop.example.com/cart" {
		t.Errorf("visitor_page_url fallback = %q", vars["visitor_page_url"])
	}
	if vars["visitor_referrer"] != "https://google.com" {
		t.Errorf("visitor_referrer fallback = %q", vars["visitor_referrer"])
	}
}
