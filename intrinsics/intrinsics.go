// Package intrinsics provides the CloudFormation intrinsic functions used by
// the fluffy-engine stacks.
//
// The core types are re-exported from cloudformation-schema-go:
//
//	Ref{LogicalName: "FluffyEngineVPC"}     → {"Ref": "FluffyEngineVPC"}
//	Select{Index: 0, List: GetAZs{}}        → {"Fn::Select": [0, {"Fn::GetAZs": ""}]}
//	ImportValue{ExportName: "Net-VpcId"}    → {"Fn::ImportValue": "Net-VpcId"}
package intrinsics

import (
	"github.com/lex00/cloudformation-schema-go/intrinsics"
)

type (
	// Ref represents a CloudFormation Ref intrinsic function.
	Ref = intrinsics.Ref

	// GetAtt represents a CloudFormation Fn::GetAtt intrinsic function.
	GetAtt = intrinsics.GetAtt

	// Sub represents a CloudFormation Fn::Sub intrinsic function.
	Sub = intrinsics.Sub

	// Join represents a CloudFormation Fn::Join intrinsic function.
	Join = intrinsics.Join

	// Select represents a CloudFormation Fn::Select intrinsic function.
	Select = intrinsics.Select

	// GetAZs represents a CloudFormation Fn::GetAZs intrinsic function.
	GetAZs = intrinsics.GetAZs

	// Base64 represents a CloudFormation Fn::Base64 intrinsic function.
	Base64 = intrinsics.Base64

	// ImportValue represents a CloudFormation Fn::ImportValue intrinsic function.
	ImportValue = intrinsics.ImportValue

	// Tag represents a CloudFormation resource tag.
	Tag = intrinsics.Tag
)

// Pseudo-parameters predefined by CloudFormation.
var (
	// AWS_ACCOUNT_ID returns the AWS account ID of the account in which the stack is created.
	AWS_ACCOUNT_ID = intrinsics.AWS_ACCOUNT_ID

	// AWS_REGION returns the AWS Region in which the stack is created.
	AWS_REGION = intrinsics.AWS_REGION

	// AWS_STACK_NAME returns the name of the stack.
	AWS_STACK_NAME = intrinsics.AWS_STACK_NAME
)

// Param creates a Ref for a CloudFormation template parameter.
func Param(name string) Ref {
	return Ref{LogicalName: name}
}

// ImportedList splits a comma-joined export back into a list, the way
// list-valued outputs (subnet IDs) cross stack boundaries.
func ImportedList(exportName string) any {
	return map[string]any{
		"Fn::Split": []any{",", ImportValue{ExportName: exportName}},
	}
}
