package services

import (
	"encoding/json"
	"testing"

	"flowdesk/internal/models"
)

func strPtr(s string) *string { return &s }

func TestConditionNode_UnmarshalTaggedUnion(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{
			name:  "leaf only",
			input: `{"leaf":{"field":"VISITOR_CITY","operator":"EQ","primary":"Berlin"}}`,
		},
		{
			name:  "group only",
			input: `{"group":{"operator":"AND","children":[]}}`,
		},
		{
			name:    "both leaf and group",
			input:   `{"leaf":{"field":"VISITOR_CITY","operator":"EQ","primary":"Berlin"},"group":{"operator":"AND"}}`,
			wantErr: true,
		},
		{
			name:    "neither leaf nor group",
			input:   `{}`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var node ConditionNode
			err := json.Unmarshal([]byte(tt.input), &node)
			if (err != nil) != tt.wantErr {
				t.Fatalf("unmarshal error = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}

func TestConditionNode_Validate(t *testing.T) {
	tests := []struct {
		name    string
		node    *ConditionNode
		wantErr bool
	}{
		{
			name: "valid leaf",
			node: NewLeafNode(ConditionLeaf{Field: FieldVisitorCity, Operator: models.ConditionOpEq, Primary: "Berlin"}),
		},
		{
			name: "leaf without operator",
			node: NewLeafNode(ConditionLeaf{Field: FieldVisitorCity, Primary: "Berlin"}),
			wantErr: true,
		},
		{
			name: "special field without operator",
			node: NewLeafNode(ConditionLeaf{Field: FieldStillOnPage, Primary: 30.0}),
		},
		{
			name:    "special field with operator",
			node:    NewLeafNode(ConditionLeaf{Field: FieldStillOnPage, Operator: models.ConditionOpGt, Primary: 30.0}),
			wantErr: true,
		},
		{
			name:    "leaf without primary value",
			node:    NewLeafNode(ConditionLeaf{Field: FieldVisitorCity, Operator: models.ConditionOpEq}),
			wantErr: true,
		},
		{
			name: "empty group is valid",
			node: NewGroupNode(models.GroupOperatorOr),
		},
		{
			name:    "group without AND/OR",
			node:    NewGroupNode("XOR"),
			wantErr: true,
		},
		{
			name: "nested invalid leaf detected",
			node: NewGroupNode(models.GroupOperatorAnd,
				NewGroupNode(models.GroupOperatorOr,
					NewLeafNode(ConditionLeaf{Field: "", Operator: models.ConditionOpEq, Primary: "x"}))),
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.node.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}

func TestBuildConditionTree(t *testing.T) {
	rootID := "g-root"
	childID := "g-child"
	groups := []models.TriggerConditionGroup{
		{ID: childID, TriggerID: "t1", ParentID: &rootID, Operator: models.GroupOperatorOr, SortOrder: 1},
		{ID: rootID, TriggerID: "t1", Operator: models.GroupOperatorAnd},
	}
	city := "Berlin"
	conditions := []models.TriggerCondition{
		{ID: "c1", TriggerID: "t1", GroupID: rootID, Field: FieldVisitorCity, Operator: strPtr(models.ConditionOpEq), PrimaryStringValue: &city},
		{ID: "c2", TriggerID: "t1", GroupID: childID, Field: FieldQueueSize, Operator: strPtr(models.ConditionOpGt), PrimaryNumberValue: floatPtr(3)},
	}

	root, err := BuildConditionTree(groups, conditions)
	if err != nil {
		t.Fatalf("BuildConditionTree failed: %v", err)
	}
	if root.Group == nil || root.Group.Operator != models.GroupOperatorAnd {
		t.Fatalf("expected AND root group, got %+v", root)
	}
	if len(root.Group.Children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(root.Group.Children))
	}
	// 叶子排在子组之前
	if root.Group.Children[0].Leaf == nil || root.Group.Children[0].Leaf.Field != FieldVisitorCity {
		t.Errorf("expected first child to be the city leaf")
	}
	nested := root.Group.Children[1]
	if nested.Group == nil || nested.Group.Operator != models.GroupOperatorOr {
		t.Fatalf("expected nested OR group, got %+v", nested)
	}
	if len(nested.Group.Children) != 1 || nested.Group.Children[0].Leaf.Field != FieldQueueSize {
		t.Errorf("nested group should hold the queue size leaf")
	}
}

func TestBuildConditionTree_NoRoot(t *testing.T) {
	parent := "missing"
	groups := []models.TriggerConditionGroup{
		{ID: "g1", TriggerID: "t1", ParentID: &parent, Operator: models.GroupOperatorAnd},
	}
	if _, err := BuildConditionTree(groups, nil); err == nil {
		t.Fatal("expected error for tree without a root group")
	}
}

func floatPtr(f float64) *float64 { return &f }
