// Package cloudformation drives the stack lifecycle through the
// CloudFormation API.
package cloudformation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/smithy-go"
)

// ErrNoUpdates is returned by UpdateStack when the template is unchanged.
var ErrNoUpdates = errors.New("no updates are to be performed")

type CloudFormationAPI interface {
	DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
	CreateStack(ctx context.Context, params *cloudformation.CreateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error)
	UpdateStack(ctx context.Context, params *cloudformation.UpdateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error)
	DeleteStack(ctx context.Context, params *cloudformation.DeleteStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error)
	GetTemplate(ctx context.Context, params *cloudformation.GetTemplateInput, optFns ...func(*cloudformation.Options)) (*cloudformation.GetTemplateOutput, error)
	DescribeStackEvents(ctx context.Context, params *cloudformation.DescribeStackEventsInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStackEventsOutput, error)
}

type Client struct {
	api CloudFormationAPI

	// waiterDelay overrides the SDK waiter polling interval when set.
	waiterDelay time.Duration
}

func NewClient(api CloudFormationAPI) *Client {
	return &Client{api: api}
}

// DescribeStack returns the named stack, or nil when it does not exist.
func (c *Client) DescribeStack(ctx context.Context, name string) (*Stack, error) {
	out, err := c.api.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(name),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("DescribeStacks: %w", err)
	}
	if len(out.Stacks) == 0 {
		return nil, nil
	}
	s := out.Stacks[0]
	if s.StackStatus == cfntypes.StackStatusDeleteComplete {
		return nil, nil
	}
	return toStack(s), nil
}

// CreateStack starts creating a stack and returns its ID.
func (c *Client) CreateStack(ctx context.Context, in StackInput) (string, error) {
	out, err := c.api.CreateStack(ctx, &cloudformation.CreateStackInput{
		StackName:    aws.String(in.Name),
		TemplateBody: aws.String(in.TemplateBody),
		Parameters:   toParameters(in.Parameters),
		Tags:         toTags(in.Tags),
		OnFailure:    cfntypes.OnFailureRollback,
	})
	if err != nil {
		return "", fmt.Errorf("CreateStack %s: %w", in.Name, err)
	}
	return aws.ToString(out.StackId), nil
}

// UpdateStack starts updating a stack. It returns ErrNoUpdates when the
// stack already matches the template.
func (c *Client) UpdateStack(ctx context.Context, in StackInput) (string, error) {
	out, err := c.api.UpdateStack(ctx, &cloudformation.UpdateStackInput{
		StackName:    aws.String(in.Name),
		TemplateBody: aws.String(in.TemplateBody),
		Parameters:   toParameters(in.Parameters),
		Tags:         toTags(in.Tags),
	})
	if err != nil {
		if isNoUpdates(err) {
			return "", ErrNoUpdates
		}
		return "", fmt.Errorf("UpdateStack %s: %w", in.Name, err)
	}
	return aws.ToString(out.StackId), nil
}

// DeleteStack starts deleting a stack.
func (c *Client) DeleteStack(ctx context.Context, name string) error {
	_, err := c.api.DeleteStack(ctx, &cloudformation.DeleteStackInput{
		StackName: aws.String(name),
	})
	if err != nil {
		return fmt.Errorf("DeleteStack %s: %w", name, err)
	}
	return nil
}

// GetTemplate returns the original template body of a deployed stack.
func (c *Client) GetTemplate(ctx context.Context, name string) (string, error) {
	out, err := c.api.GetTemplate(ctx, &cloudformation.GetTemplateInput{
		StackName:     aws.String(name),
		TemplateStage: cfntypes.TemplateStageOriginal,
	})
	if err != nil {
		return "", fmt.Errorf("GetTemplate %s: %w", name, err)
	}
	return aws.ToString(out.TemplateBody), nil
}

// FailureEvents returns the failed resource events of a stack, oldest first.
func (c *Client) FailureEvents(ctx context.Context, name string) ([]StackEvent, error) {
	var events []StackEvent
	var token *string

	for {
		out, err := c.api.DescribeStackEvents(ctx, &cloudformation.DescribeStackEventsInput{
			StackName: aws.String(name),
			NextToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("DescribeStackEvents: %w", err)
		}

		for _, e := range out.StackEvents {
			if !strings.HasSuffix(string(e.ResourceStatus), "_FAILED") {
				continue
			}
			var ts time.Time
			if e.Timestamp != nil {
				ts = *e.Timestamp
			}
			events = append(events, StackEvent{
				LogicalID: aws.ToString(e.LogicalResourceId),
				Type:      aws.ToString(e.ResourceType),
				Status:    string(e.ResourceStatus),
				Reason:    aws.ToString(e.ResourceStatusReason),
				Timestamp: ts,
			})
		}

		if out.NextToken == nil {
			break
		}
		token = out.NextToken
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events, nil
}

// Wait blocks until the stack reaches the terminal state for op or maxWait
// elapses.
func (c *Client) Wait(ctx context.Context, name string, op Operation, maxWait time.Duration) error {
	params := &cloudformation.DescribeStacksInput{StackName: aws.String(name)}

	var err error
	switch op {
	case OpCreate:
		w := cloudformation.NewStackCreateCompleteWaiter(c.api, func(o *cloudformation.StackCreateCompleteWaiterOptions) {
			if c.waiterDelay > 0 {
				o.MinDelay, o.MaxDelay = c.waiterDelay, c.waiterDelay
			}
		})
		err = w.Wait(ctx, params, maxWait)
	case OpUpdate:
		w := cloudformation.NewStackUpdateCompleteWaiter(c.api, func(o *cloudformation.StackUpdateCompleteWaiterOptions) {
			if c.waiterDelay > 0 {
				o.MinDelay, o.MaxDelay = c.waiterDelay, c.waiterDelay
			}
		})
		err = w.Wait(ctx, params, maxWait)
	case OpDelete:
		w := cloudformation.NewStackDeleteCompleteWaiter(c.api, func(o *cloudformation.StackDeleteCompleteWaiterOptions) {
			if c.waiterDelay > 0 {
				o.MinDelay, o.MaxDelay = c.waiterDelay, c.waiterDelay
			}
		})
		err = w.Wait(ctx, params, maxWait)
	default:
		return fmt.Errorf("unknown stack operation %q", op)
	}
	if err != nil {
		return fmt.Errorf("waiting for %s of %s: %w", op, name, err)
	}
	return nil
}

func toStack(s cfntypes.Stack) *Stack {
	stack := &Stack{
		Name:         aws.ToString(s.StackName),
		ID:           aws.ToString(s.StackId),
		Status:       string(s.StackStatus),
		StatusReason: aws.ToString(s.StackStatusReason),
	}
	for _, o := range s.Outputs {
		stack.Outputs = append(stack.Outputs, StackOutput{
			Key:         aws.ToString(o.OutputKey),
			Value:       aws.ToString(o.OutputValue),
			Description: aws.ToString(o.Description),
			ExportName:  aws.ToString(o.ExportName),
		})
	}
	sort.Slice(stack.Outputs, func(i, j int) bool {
		return stack.Outputs[i].Key < stack.Outputs[j].Key
	})
	return stack
}

func toParameters(m map[string]string) []cfntypes.Parameter {
	keys := sortedKeys(m)
	params := make([]cfntypes.Parameter, 0, len(keys))
	for _, k := range keys {
		params = append(params, cfntypes.Parameter{
			ParameterKey:   aws.String(k),
			ParameterValue: aws.String(m[k]),
		})
	}
	return params
}

func toTags(m map[string]string) []cfntypes.Tag {
	keys := sortedKeys(m)
	tags := make([]cfntypes.Tag, 0, len(keys))
	for _, k := range keys {
		tags = append(tags, cfntypes.Tag{Key: aws.String(k), Value: aws.String(m[k])})
	}
	return tags
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// isNotFound matches the ValidationError DescribeStacks returns for a
// missing stack.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) &&
		apiErr.ErrorCode() == "ValidationError" &&
		strings.Contains(apiErr.ErrorMessage(), "does not exist")
}

func isNoUpdates(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) &&
		apiErr.ErrorCode() == "ValidationError" &&
		strings.Contains(apiErr.ErrorMessage(), "No updates are to be performed")
}
