package intrinsics

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRef_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(Ref{LogicalName: "FluffyEngineVPC"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Ref": "FluffyEngineVPC"}`, string(data))
}

func TestGetAtt_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(GetAtt{LogicalName: "FluffyEngineNLB", Attribute: "DNSName"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Fn::GetAtt": ["FluffyEngineNLB", "DNSName"]}`, string(data))
}

func TestSelect_GetAZs(t *testing.T) {
	data, err := json.Marshal(Select{Index: 1, List: GetAZs{}})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"Fn::Select"`)
	assert.Contains(t, string(data), `"Fn::GetAZs"`)
}

func TestImportValue_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(ImportValue{ExportName: "FluffyEngineNetworkStack-VpcId"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Fn::ImportValue": "FluffyEngineNetworkStack-VpcId"}`, string(data))
}

func TestBase64_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(Base64{Value: "#!/bin/bash\n"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Fn::Base64": "#!/bin/bash\n"}`, string(data))
}

func TestParam(t *testing.T) {
	data, err := json.Marshal(Param("ImageId"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"Ref": "ImageId"}`, string(data))
}

func TestImportedList(t *testing.T) {
	data, err := json.Marshal(ImportedList("Net-PublicSubnetIds"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"Fn::Split": [",", {"Fn::ImportValue": "Net-PublicSubnetIds"}]}`, string(data))
}

func TestPseudoParameters(t *testing.T) {
	tests := []struct {
		name     string
		param    Ref
		expected string
	}{
		{"AWS_REGION", AWS_REGION, `{"Ref": "AWS::Region"}`},
		{"AWS_ACCOUNT_ID", AWS_ACCOUNT_ID, `{"Ref": "AWS::AccountId"}`},
		{"AWS_STACK_NAME", AWS_STACK_NAME, `{"Ref": "AWS::StackName"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.param)
			require.NoError(t, err)
			assert.JSONEq(t, tt.expected, string(data))
		})
	}
}
