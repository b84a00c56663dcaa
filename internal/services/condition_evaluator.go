package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"flowdesk/internal/models"

	"github.com/sirupsen/logrus"
)

// ConditionEvaluator 递归求值条件树。相对输入是纯函数，只有三个
// 特殊字段会经 LookupStore 读存储。
type ConditionEvaluator struct {
	lookups LookupStore
	logger  *logrus.Logger
}

func NewConditionEvaluator(lookups LookupStore, logger *logrus.Logger) *ConditionEvaluator {
	if logger == nil {
		logger = logrus.New()
	}
	return &ConditionEvaluator{lookups: lookups, logger: logger}
}

// Evaluate 对节点求值。组：AND 全真为真，OR 任一为真；空组恒真
// （两种运算符下都如此，这是有意的宽松默认而非遗漏）。
func (e *ConditionEvaluator) Evaluate(ctx context.Context, node *ConditionNode, ec *EventContext) (bool, error) {
	if node == nil {
		return true, nil
	}
	switch {
	case node.Leaf != nil:
		return e.evaluateLeaf(ctx, node.Leaf, ec)
	case node.Group != nil:
		return e.evaluateGroup(ctx, node.Group, ec)
	}
	return false, fmt.Errorf("condition node is neither leaf nor group")
}

func (e *ConditionEvaluator) evaluateGroup(ctx context.Context, g *ConditionGroupNode, ec *EventContext) (bool, error) {
	if len(g.Children) == 0 {
		return true, nil
	}
	for _, child := range g.Children {
		ok, err := e.Evaluate(ctx, child, ec)
		if err != nil {
			return false, err
		}
		if g.Operator == models.GroupOperatorAnd && !ok {
			return false, nil
		}
		if g.Operator == models.GroupOperatorOr && ok {
			return true, nil
		}
	}
	// AND 全部通过；OR 全部落空
	return g.Operator == models.GroupOperatorAnd, nil
}

func (e *ConditionEvaluator) evaluateLeaf(ctx context.Context, leaf *ConditionLeaf, ec *EventContext) (bool, error) {
	if IsSpecialField(leaf.Field) {
		return e.evaluateSpecial(ctx, leaf, ec)
	}

	left := ResolveField(leaf.Field, ec)
	if left == nil {
		// 字段解析不到时任何比较都不命中
		return false, nil
	}
	return compareValues(leaf.Operator, left, leaf.Primary), nil
}

// evaluateSpecial 处理免运算符的计算字段
func (e *ConditionEvaluator) evaluateSpecial(ctx context.Context, leaf *ConditionLeaf, ec *EventContext) (bool, error) {
	switch leaf.Field {
	case FieldStillOnPage, FieldStillOnSite:
		threshold, ok := toFloat64(leaf.Primary)
		if !ok {
			return false, nil
		}
		visit, err := e.lookups.PageVisitBySession(ctx, ec.WorkspaceID, ec.SessionID())
		if err != nil {
			return false, fmt.Errorf("page visit lookup: %w", err)
		}
		if visit == nil {
			return false, nil
		}
		start := visit.PageStartedAt
		if leaf.Field == FieldStillOnSite {
			start = visit.SiteStartedAt
		}
		elapsed := ec.Timestamp.Sub(start).Seconds()
		return elapsed >= threshold, nil
	case FieldDepartmentStatus:
		deptID, _ := leaf.Primary.(string)
		expected, _ := leaf.Secondary.(string)
		if deptID == "" || expected == "" {
			return false, nil
		}
		status, err := e.lookups.DepartmentStatus(ctx, deptID)
		if err != nil {
			return false, fmt.Errorf("department status lookup: %w", err)
		}
		return strings.EqualFold(status, expected), nil
	}
	return false, fmt.Errorf("unknown special field %s", leaf.Field)
}

// compareValues 按运算符比较已解析的左值与条件右值
func compareValues(op string, left, right interface{}) bool {
	switch op {
	case models.ConditionOpEq:
		return looseEqual(left, right)
	case models.ConditionOpNe:
		return !looseEqual(left, right)
	case models.ConditionOpLt, models.ConditionOpLte, models.ConditionOpGt, models.ConditionOpGte:
		// 非数值操作数按 NaN 处理，结果恒为假。这是既有约定，不做静默修补。
		lf, lok := toFloat64(left)
		rf, rok := toFloat64(right)
		if !lok || !rok {
			return false
		}
		switch op {
		case models.ConditionOpLt:
			return lf < rf
		case models.ConditionOpLte:
			return lf <= rf
		case models.ConditionOpGt:
			return lf > rf
		case models.ConditionOpGte:
			return lf >= rf
		}
		return false
	case models.ConditionOpContains:
		return strings.Contains(stringify(left), stringify(right))
	case models.ConditionOpIContains:
		return strings.Contains(strings.ToLower(stringify(left)), strings.ToLower(stringify(right)))
	case models.ConditionOpStartsWith:
		return strings.HasPrefix(stringify(left), stringify(right))
	case models.ConditionOpIStartsWith:
		return strings.HasPrefix(strings.ToLower(stringify(left)), strings.ToLower(stringify(right)))
	case models.ConditionOpEndsWith:
		return strings.HasSuffix(stringify(left), stringify(right))
	case models.ConditionOpIEndsWith:
		return strings.HasSuffix(strings.ToLower(stringify(left)), strings.ToLower(stringify(right)))
	}
	return false
}

// looseEqual 布尔优先、数值次之、字符串兜底的宽松相等
func looseEqual(left, right interface{}) bool {
	if lb, ok := left.(bool); ok {
		rb, ok := toBool(right)
		return ok && lb == rb
	}
	if rb, ok := right.(bool); ok {
		lb, ok := toBool(left)
		return ok && lb == rb
	}
	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if lok && rok {
		return lf == rf
	}
	return stringify(left) == stringify(right)
}

// toFloat64 数值强转；字符串尝试按数字解析
func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func toBool(v interface{}) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(b)))
		return parsed, err == nil
	case float64:
		return b != 0, true
	case int:
		return b != 0, true
	}
	return false, false
}

func stringify(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	if f, ok := v.(float64); ok {
		// 整数值不带小数点，与 JSON 数字的常见书写一致
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprintf("%v", v)
}
