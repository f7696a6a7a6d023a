package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	textracttypes "github.com/aws/aws-sdk-go-v2/service/textract/types"

	"grocery-backend/internal/shared/storage/object"
)

// TextractCapability implements Capability using AWS Textract synchronous
// text detection against objects already in S3.
type TextractCapability struct {
	client *textract.Client
}

// NewTextract constructs a Textract-backed OCR capability.
func NewTextract(ctx context.Context, region string) (*TextractCapability, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &TextractCapability{client: textract.NewFromConfig(cfg)}, nil
}

// ExtractText runs text detection and joins detected lines.
func (t *TextractCapability) ExtractText(ctx context.Context, loc object.Locator, kind string) (string, error) {
	_ = kind // Textract detects pdf and image formats alike

	out, err := t.client.DetectDocumentText(ctx, &textract.DetectDocumentTextInput{
		Document: &textracttypes.Document{
			S3Object: &textracttypes.S3Object{
				Bucket: aws.String(loc.Bucket),
				Name:   aws.String(loc.Key),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("textract detect bucket=%s key=%s: %w", loc.Bucket, loc.Key, err)
	}

	var lines []string
	for _, block := range out.Blocks {
		if block.BlockType == textracttypes.BlockTypeLine && block.Text != nil {
			lines = append(lines, aws.ToString(block.Text))
		}
	}
	return strings.Join(lines, "\n"), nil
}

var _ Capability = (*TextractCapability)(nil)
