package services

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// @token 占位符，大小写不敏感，token 限 [a-z_]+
var templateTokenRe = regexp.MustCompile(`(?i)@([a-z_]+)`)

// RenderTemplate 用变量表替换文本中的 @token 占位符。
// 未知 token 原样保留，调用方需容忍渲染结果里出现字面 @xxx。
func RenderTemplate(text string, vars map[string]string) string {
	if text == "" || !strings.Contains(text, "@") {
		return text
	}
	return templateTokenRe.ReplaceAllStringFunc(text, func(match string) string {
		name := strings.ToLower(match[1:])
		if v, ok := vars[name]; ok {
			return v
		}
		return match
	})
}

// TemplateVarBuilder 每次求值批次构建一份模板变量表（而非每个动作一份）。
// 页面相关变量在事件上下文缺失时回落到持久化的页面访问记录。
type TemplateVarBuilder struct {
	lookups LookupStore
	logger  *logrus.Logger
}

func NewTemplateVarBuilder(lookups LookupStore, logger *logrus.Logger) *TemplateVarBuilder {
	if logger == nil {
		logger = logrus.New()
	}
	return &TemplateVarBuilder{lookups: lookups, logger: logger}
}

// Build 从事件上下文解析模板变量表
func (b *TemplateVarBuilder) Build(ctx context.Context, ec *EventContext) map[string]string {
	vars := map[string]string{
		"hour_of_day": strconv.Itoa(ec.HourOfDay()),
		"day_of_week": ec.DayOfWeek(),
	}

	fieldVars := map[string]string{
		"visitor_name":            FieldVisitorName,
		"visitor_email":           FieldVisitorEmail,
		"visitor_country_code":    FieldVisitorCountryCode,
		"visitor_country_name":    FieldVisitorCountryName,
		"visitor_region":          FieldVisitorRegion,
		"visitor_city":            FieldVisitorCity,
		"visitor_ip":              FieldVisitorIP,
		"visitor_browser":         FieldVisitorBrowser,
		"visitor_os":              FieldVisitorOS,
		"visitor_device":          FieldVisitorDevice,
		"visitor_language":        FieldVisitorLanguage,
		"visitor_timezone":        FieldVisitorTimezone,
		"visitor_referrer":        FieldVisitorReferrer,
		"visitor_search_keywords": FieldVisitorSearchKeywords,
		"visitor_page_url":        FieldVisitorPageURL,
		"visitor_page_title":      FieldVisitorPageTitle,
		"visitor_page_count":      FieldVisitorPageCount,
		"visitor_visit_count":     FieldVisitorVisitCount,
		"account_status":          FieldAccountStatus,
	}
	for name, field := range fieldVars {
		if v := ResolveField(field, ec); v != nil {
			vars[name] = stringify(v)
		}
	}

	b.fillPageFallback(ctx, ec, vars)
	return vars
}

// fillPageFallback 事件里没带页面信息时查页面访问记录补齐
func (b *TemplateVarBuilder) fillPageFallback(ctx context.Context, ec *EventContext, vars map[string]string) {
	_, hasURL := vars["visitor_page_url"]
	_, hasTitle := vars["visitor_page_title"]
	_, hasReferrer := vars["visitor_referrer"]
	if hasURL && hasTitle && hasReferrer {
		return
	}
	sessionID := ec.SessionID()
	if sessionID == "" {
		return
	}
	visit, err := b.lookups.PageVisitBySession(ctx, ec.WorkspaceID, sessionID)
	if err != nil {
		b.logger.Warnf("template vars: page visit fallback failed: %v", err)
		return
	}
	if visit == nil {
		return
	}
	if !hasURL && visit.PageURL != "" {
		vars["visitor_page_url"] = visit.PageURL
	}
	if !hasTitle && visit.PageTitle != "" {
		vars["visitor_page_title"] = visit.PageTitle
	}
	if !hasReferrer && visit.Referrer != "" {
		vars["visitor_referrer"] = visit.Referrer
	}
}
