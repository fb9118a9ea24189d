package environment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeParameters struct {
	values map[string]string
	err    error
	asked  []string
}

func (f *fakeParameters) GetParameters(_ context.Context, names []string) (map[string]string, error) {
	f.asked = append(f.asked, names...)
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]string)
	for _, n := range names {
		if v, ok := f.values[n]; ok {
			out[n] = v
		}
	}
	return out, nil
}

func TestParseMode(t *testing.T) {
	for _, m := range Modes() {
		got, err := ParseMode(string(m))
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}

	_, err := ParseMode("env-vars")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownMode))
	assert.Contains(t, err.Error(), "cli-context")
}

func TestEnv_Validate(t *testing.T) {
	tests := []struct {
		name    string
		env     Env
		wantErr bool
	}{
		{"valid", Env{Account: "123456789012", Region: "us-east-1"}, false},
		{"gov region", Env{Account: "123456789012", Region: "us-gov-west-1"}, false},
		{"missing account", Env{Region: "us-east-1"}, true},
		{"missing region", Env{Account: "123456789012"}, true},
		{"short account", Env{Account: "12345", Region: "us-east-1"}, true},
		{"bad region", Env{Account: "123456789012", Region: "Virginia"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.env.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidEnv))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEnv_String(t *testing.T) {
	assert.Equal(t, "aws://123456789012/us-east-1", Env{Account: "123456789012", Region: "us-east-1"}.String())
}

func TestContextResolver(t *testing.T) {
	r := ContextResolver{Values: map[string]string{"account": "123456789012", "region": "us-east-1"}}
	env, err := Resolve(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, Env{Account: "123456789012", Region: "us-east-1"}, env)
}

func TestContextResolver_MissingValues(t *testing.T) {
	_, err := Resolve(context.Background(), ContextResolver{Values: map[string]string{"account": "123456789012"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingContext))
	assert.Contains(t, err.Error(), "region")

	_, err = Resolve(context.Background(), ContextResolver{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "account, region")
}

func TestStaticResolver(t *testing.T) {
	env, err := Resolve(context.Background(), StaticResolver{Account: "210987654321", Region: "eu-west-2"})
	require.NoError(t, err)
	assert.Equal(t, "eu-west-2", env.Region)

	_, err = Resolve(context.Background(), StaticResolver{Account: "ACCOUNT", Region: "REGION"})
	assert.Error(t, err)
}

func TestSSMResolver(t *testing.T) {
	client := &fakeParameters{values: map[string]string{
		DefaultAccountParameter: "123456789012",
		DefaultRegionParameter:  "ap-southeast-2",
	}}

	env, err := Resolve(context.Background(), SSMResolver{Client: client})
	require.NoError(t, err)
	assert.Equal(t, Env{Account: "123456789012", Region: "ap-southeast-2"}, env)
	assert.Equal(t, []string{DefaultAccountParameter, DefaultRegionParameter}, client.asked)
}

func TestSSMResolver_CustomNames(t *testing.T) {
	client := &fakeParameters{values: map[string]string{
		"/vpn/account": "123456789012",
		"/vpn/region":  "us-west-2",
	}}

	env, err := Resolve(context.Background(), SSMResolver{
		Client:           client,
		AccountParameter: "/vpn/account",
		RegionParameter:  "/vpn/region",
	})
	require.NoError(t, err)
	assert.Equal(t, "us-west-2", env.Region)
}

func TestSSMResolver_MissingParameter(t *testing.T) {
	client := &fakeParameters{values: map[string]string{DefaultAccountParameter: "123456789012"}}

	_, err := Resolve(context.Background(), SSMResolver{Client: client})
	require.Error(t, err)
	assert.Contains(t, err.Error(), DefaultRegionParameter)
}

func TestSSMResolver_ClientError(t *testing.T) {
	client := &fakeParameters{err: errors.New("AccessDeniedException")}

	_, err := Resolve(context.Background(), SSMResolver{Client: client})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AccessDeniedException")

	_, err = SSMResolver{}.Resolve(context.Background())
	assert.Error(t, err)
}

func TestNewResolver(t *testing.T) {
	r, err := NewResolver(ModeStaticLiteral, Options{Static: Env{Account: "123456789012", Region: "us-east-1"}})
	require.NoError(t, err)
	assert.IsType(t, StaticResolver{}, r)

	r, err = NewResolver(ModeCLIContext, Options{})
	require.NoError(t, err)
	assert.IsType(t, ContextResolver{}, r)

	r, err = NewResolver(ModeSSMLookup, Options{})
	require.NoError(t, err)
	assert.IsType(t, SSMResolver{}, r)

	_, err = NewResolver(Mode("bogus"), Options{})
	assert.True(t, errors.Is(err, ErrUnknownMode))
}

func TestParseContext(t *testing.T) {
	values, err := ParseContext([]string{"account=123456789012", "region=us-east-1", "count=2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"account": "123456789012",
		"region":  "us-east-1",
		"count":   "2",
	}, values)

	_, err = ParseContext([]string{"account"})
	assert.Error(t, err)

	_, err = ParseContext([]string{"=x"})
	assert.Error(t, err)
}
