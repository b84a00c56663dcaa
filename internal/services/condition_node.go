package services

import (
	"encoding/json"
	"fmt"
	"sort"

	"flowdesk/internal/models"
)

// 无比较运算符的三个特殊计算字段
const (
	FieldStillOnPage      = "STILL_ON_PAGE"
	FieldStillOnSite      = "STILL_ON_SITE"
	FieldDepartmentStatus = "DEPARTMENT_STATUS"
)

// ConditionLeaf 叶子条件。Operator 为空仅限三个特殊计算字段；
// Primary/Secondary 承载 JSON 解码后的 string/float64/bool。
type ConditionLeaf struct {
	Field     string      `json:"field"`
	Operator  string      `json:"operator,omitempty"`
	Primary   interface{} `json:"primary"`
	Secondary interface{} `json:"secondary,omitempty"`
}

// ConditionGroupNode AND/OR 组
type ConditionGroupNode struct {
	Operator string           `json:"operator"`
	Children []*ConditionNode `json:"children"`
}

// ConditionNode 是叶子或组的标签联合，二者有且只有其一。
// 同时填充或都为空在解析期即报错，不会流入求值器。
type ConditionNode struct {
	Leaf  *ConditionLeaf      `json:"leaf,omitempty"`
	Group *ConditionGroupNode `json:"group,omitempty"`
}

// NewLeafNode 构造叶子节点
func NewLeafNode(leaf ConditionLeaf) *ConditionNode {
	return &ConditionNode{Leaf: &leaf}
}

// NewGroupNode 构造条件组节点
func NewGroupNode(operator string, children ...*ConditionNode) *ConditionNode {
	return &ConditionNode{Group: &ConditionGroupNode{Operator: operator, Children: children}}
}

// UnmarshalJSON 在解码时强制标签联合形状
func (n *ConditionNode) UnmarshalJSON(data []byte) error {
	type alias ConditionNode
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	if a.Leaf != nil && a.Group != nil {
		return fmt.Errorf("condition node cannot be both leaf and group")
	}
	if a.Leaf == nil && a.Group == nil {
		return fmt.Errorf("condition node must be a leaf or a group")
	}
	*n = ConditionNode(a)
	return nil
}

// IsSpecialField 判断字段是否为免运算符的特殊计算字段
func IsSpecialField(field string) bool {
	switch field {
	case FieldStillOnPage, FieldStillOnSite, FieldDepartmentStatus:
		return true
	}
	return false
}

func validOperator(op string) bool {
	switch op {
	case models.ConditionOpEq, models.ConditionOpNe,
		models.ConditionOpLt, models.ConditionOpLte,
		models.ConditionOpGt, models.ConditionOpGte,
		models.ConditionOpContains, models.ConditionOpIContains,
		models.ConditionOpStartsWith, models.ConditionOpIStartsWith,
		models.ConditionOpEndsWith, models.ConditionOpIEndsWith:
		return true
	}
	return false
}

func validGroupOperator(op string) bool {
	return op == models.GroupOperatorAnd || op == models.GroupOperatorOr
}

// Validate 递归校验节点。叶子必须带字段与主值，且非特殊字段必须带
// 合法比较运算符；组必须声明 AND/OR。空组是合法的（求值时恒真）。
func (n *ConditionNode) Validate() error {
	switch {
	case n.Leaf != nil:
		leaf := n.Leaf
		if leaf.Field == "" {
			return fmt.Errorf("condition leaf requires a field")
		}
		if leaf.Primary == nil {
			return fmt.Errorf("condition leaf %s requires a primary value", leaf.Field)
		}
		if IsSpecialField(leaf.Field) {
			if leaf.Operator != "" {
				return fmt.Errorf("field %s does not take an operator", leaf.Field)
			}
			return nil
		}
		if !validOperator(leaf.Operator) {
			return fmt.Errorf("invalid operator %q for field %s", leaf.Operator, leaf.Field)
		}
		return nil
	case n.Group != nil:
		if !validGroupOperator(n.Group.Operator) {
			return fmt.Errorf("condition group requires operator AND or OR, got %q", n.Group.Operator)
		}
		for _, child := range n.Group.Children {
			if child == nil {
				return fmt.Errorf("condition group contains a nil child")
			}
			if err := child.Validate(); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("condition node must be a leaf or a group")
	}
}

// BuildConditionTree 把持久化的组/条件行重建为树。parentID 为空的组是根；
// 正常情况下只有一个根，多个根在求值层按 AND 合并兜底处理。
func BuildConditionTree(groups []models.TriggerConditionGroup, conditions []models.TriggerCondition) (*ConditionNode, error) {
	if len(groups) == 0 {
		return nil, fmt.Errorf("trigger has no condition groups")
	}

	childGroups := make(map[string][]models.TriggerConditionGroup)
	leaves := make(map[string][]models.TriggerCondition)
	var roots []models.TriggerConditionGroup
	for _, g := range groups {
		if g.ParentID == nil {
			roots = append(roots, g)
		} else {
			childGroups[*g.ParentID] = append(childGroups[*g.ParentID], g)
		}
	}
	for _, c := range conditions {
		leaves[c.GroupID] = append(leaves[c.GroupID], c)
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("trigger has no root condition group")
	}

	var build func(g models.TriggerConditionGroup) (*ConditionNode, error)
	build = func(g models.TriggerConditionGroup) (*ConditionNode, error) {
		if !validGroupOperator(g.Operator) {
			return nil, fmt.Errorf("group %s has invalid operator %q", g.ID, g.Operator)
		}
		node := &ConditionNode{Group: &ConditionGroupNode{Operator: g.Operator}}

		ls := leaves[g.ID]
		sort.SliceStable(ls, func(i, j int) bool { return ls[i].SortOrder < ls[j].SortOrder })
		for _, c := range ls {
			node.Group.Children = append(node.Group.Children, &ConditionNode{Leaf: leafFromRow(c)})
		}

		gs := childGroups[g.ID]
		sort.SliceStable(gs, func(i, j int) bool { return gs[i].SortOrder < gs[j].SortOrder })
		for _, cg := range gs {
			child, err := build(cg)
			if err != nil {
				return nil, err
			}
			node.Group.Children = append(node.Group.Children, child)
		}
		return node, nil
	}

	if len(roots) == 1 {
		return build(roots[0])
	}
	// 防御性处理：多个无父组按 AND 合并，全部为真才算命中
	merged := &ConditionNode{Group: &ConditionGroupNode{Operator: models.GroupOperatorAnd}}
	sort.SliceStable(roots, func(i, j int) bool { return roots[i].SortOrder < roots[j].SortOrder })
	for _, r := range roots {
		child, err := build(r)
		if err != nil {
			return nil, err
		}
		merged.Group.Children = append(merged.Group.Children, child)
	}
	return merged, nil
}

func leafFromRow(c models.TriggerCondition) *ConditionLeaf {
	leaf := &ConditionLeaf{Field: c.Field}
	if c.Operator != nil {
		leaf.Operator = *c.Operator
	}
	leaf.Primary = firstValue(c.PrimaryStringValue, c.PrimaryNumberValue, c.PrimaryBoolValue)
	leaf.Secondary = firstValue(c.SecondaryStringValue, c.SecondaryNumberValue, c.SecondaryBoolValue)
	return leaf
}

func firstValue(s *string, n *float64, b *bool) interface{} {
	switch {
	case s != nil:
		return *s
	case n != nil:
		return *n
	case b != nil:
		return *b
	}
	return nil
}

// TriggerSnapshot 是写入触发器缓存的自包含快照：触发器元数据、
// 完整条件树与动作列表，一次读取即可求值，无需回源数据库。
type TriggerSnapshot struct {
	ID           string                 `json:"id"`
	WorkspaceID  string                 `json:"workspace_id"`
	DepartmentID *string                `json:"department_id,omitempty"`
	Name         string                 `json:"name"`
	Event        string                 `json:"event"`
	Enabled      bool                   `json:"enabled"`
	Priority     int                    `json:"priority"`
	Root         *ConditionNode         `json:"root"`
	Actions      []models.TriggerAction `json:"actions"`
}
