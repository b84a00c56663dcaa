package services

import (
	"time"
)

// 语义字段名（条件的左操作数）
const (
	FieldVisitorName           = "VISITOR_NAME"
	FieldVisitorEmail          = "VISITOR_EMAIL"
	FieldVisitorCountryCode    = "VISITOR_COUNTRY_CODE"
	FieldVisitorCountryName    = "VISITOR_COUNTRY_NAME"
	FieldVisitorRegion         = "VISITOR_REGION"
	FieldVisitorCity           = "VISITOR_CITY"
	FieldVisitorIP             = "VISITOR_IP"
	FieldVisitorBrowser        = "VISITOR_BROWSER"
	FieldVisitorOS             = "VISITOR_OS"
	FieldVisitorDevice         = "VISITOR_DEVICE"
	FieldVisitorLanguage       = "VISITOR_LANGUAGE"
	FieldVisitorTimezone       = "VISITOR_TIMEZONE"
	FieldVisitorReferrer       = "VISITOR_REFERRER"
	FieldVisitorSearchKeywords = "VISITOR_SEARCH_KEYWORDS"
	FieldVisitorPageURL        = "VISITOR_PAGE_URL"
	FieldVisitorPageTitle      = "VISITOR_PAGE_TITLE"
	FieldVisitorPageCount      = "VISITOR_PAGE_COUNT"
	FieldVisitorVisitCount     = "VISITOR_VISIT_COUNT"
	FieldVisitorReturning      = "VISITOR_RETURNING"
	FieldMessageContent        = "MESSAGE_CONTENT"
	FieldSenderType            = "SENDER_TYPE"
	FieldQueueSize             = "QUEUE_SIZE"
	FieldAccountStatus         = "ACCOUNT_STATUS"
	FieldDepartmentID          = "DEPARTMENT_ID"
	FieldChatMessageCount      = "CHAT_MESSAGE_COUNT"
	FieldHourOfDay             = "HOUR_OF_DAY"
	FieldDayOfWeek             = "DAY_OF_WEEK"
)

// EventContext 一次事件任务的求值上下文。Timestamp 来自事件本身，
// 时间类字段据此计算，保证求值可重放。
type EventContext struct {
	WorkspaceID  string
	DepartmentID string
	EventType    string
	Timestamp    time.Time
	Payload      map[string]interface{}
}

// Lookup 分层取值：先顶层，再 visitor / page 子对象。缺失返回 nil。
func (ec *EventContext) Lookup(key string) interface{} {
	if ec.Payload == nil {
		return nil
	}
	if v, ok := ec.Payload[key]; ok && v != nil {
		return v
	}
	for _, sub := range []string{"visitor", "page"} {
		if m, ok := ec.Payload[sub].(map[string]interface{}); ok {
			if v, ok := m[key]; ok && v != nil {
				return v
			}
		}
	}
	return nil
}

func (ec *EventContext) lookupString(key string) string {
	if v := ec.Lookup(key); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// ConversationID 解析会话（房间）ID
func (ec *EventContext) ConversationID() string {
	if s := ec.lookupString("conversation_id"); s != "" {
		return s
	}
	return ec.lookupString("room_id")
}

// SessionID 解析访客会话 ID
func (ec *EventContext) SessionID() string {
	return ec.lookupString("session_id")
}

// VisitorID 解析访客 ID
func (ec *EventContext) VisitorID() string {
	return ec.lookupString("visitor_id")
}

// mondayFirstWeekday 周一起始的星期命名
var mondayFirstWeekday = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// DayOfWeek 根据事件时间戳返回星期名（周一为一周之首）
func (ec *EventContext) DayOfWeek() string {
	// time.Weekday 以周日为 0，转成周一为 0
	idx := (int(ec.Timestamp.Weekday()) + 6) % 7
	return mondayFirstWeekday[idx]
}

// HourOfDay 根据事件时间戳返回小时（0-23）
func (ec *EventContext) HourOfDay() int {
	return ec.Timestamp.Hour()
}

// ResolveField 把语义字段名解析为具体值。解析不到返回 nil，
// 求值器将 nil 视为任何比较都不命中。
func ResolveField(field string, ec *EventContext) interface{} {
	switch field {
	case FieldVisitorName:
		if v := ec.Lookup("display_name"); v != nil {
			return v
		}
		return ec.Lookup("name")
	case FieldVisitorEmail:
		return ec.Lookup("email")
	case FieldVisitorCountryCode:
		return ec.Lookup("country_code")
	case FieldVisitorCountryName:
		return ec.Lookup("country_name")
	case FieldVisitorRegion:
		return ec.Lookup("region")
	case FieldVisitorCity:
		return ec.Lookup("city")
	case FieldVisitorIP:
		return ec.Lookup("ip")
	case FieldVisitorBrowser:
		return ec.Lookup("browser")
	case FieldVisitorOS:
		return ec.Lookup("os")
	case FieldVisitorDevice:
		return ec.Lookup("device")
	case FieldVisitorLanguage:
		return ec.Lookup("language")
	case FieldVisitorTimezone:
		return ec.Lookup("timezone")
	case FieldVisitorReferrer:
		return ec.Lookup("referrer")
	case FieldVisitorSearchKeywords:
		return ec.Lookup("search_keywords")
	case FieldVisitorPageURL:
		if v := ec.Lookup("page_url"); v != nil {
			return v
		}
		return ec.Lookup("url")
	case FieldVisitorPageTitle:
		if v := ec.Lookup("page_title"); v != nil {
			return v
		}
		return ec.Lookup("title")
	case FieldVisitorPageCount:
		return ec.Lookup("page_count")
	case FieldVisitorVisitCount:
		return ec.Lookup("visit_count")
	case FieldVisitorReturning:
		return ec.Lookup("returning")
	case FieldMessageContent:
		if v := ec.Lookup("message"); v != nil {
			return v
		}
		return ec.Lookup("content")
	case FieldSenderType:
		return ec.Lookup("sender_type")
	case FieldQueueSize:
		return ec.Lookup("queue_size")
	case FieldAccountStatus:
		return ec.Lookup("account_status")
	case FieldDepartmentID:
		if ec.DepartmentID != "" {
			return ec.DepartmentID
		}
		return ec.Lookup("department_id")
	case FieldChatMessageCount:
		return ec.Lookup("message_count")
	case FieldHourOfDay:
		return ec.HourOfDay()
	case FieldDayOfWeek:
		return ec.DayOfWeek()
	}
	return nil
}
