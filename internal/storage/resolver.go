package storage

import (
	"context"
	"errors"
	"path"
	"strings"

	corpchat_errors "corpchat/pkg/errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// Resolve checks that every attachment reference names an existing object and returns the
// references as public URLs, or object keys when no public base is configured. References
// may be given as keys or as URLs under the public base.
func (c *Client) Resolve(ctx context.Context, refs []string) ([]string, error) {
	if c == nil {
		return nil, errors.New("s3 client not initialized")
	}
	out := make([]string, 0, len(refs))
	seen := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		key, ok := c.objectKey(ref)
		if !ok {
			return nil, corpchat_errors.Validation("attachments", "attachment "+ref+" is outside the attachment store")
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		_, err := c.s3.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(c.cfg.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			if isNotFound(err) {
				return nil, corpchat_errors.Validation("attachments", "attachment "+ref+" does not exist")
			}
			return nil, err
		}

		out = append(out, c.Reference(key))
	}
	return out, nil
}

// Reference is the form an attachment takes inside a stored message.
func (c *Client) Reference(key string) string {
	if u := c.FileURL(key); u != "" {
		return u
	}
	return key
}

// UploadKey builds the object key for a new upload by ownerID.
func UploadKey(ownerID, id, fileName string) string {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(fileName), "\\", "/"))
	if name == "." || name == "/" || name == "" || name == ".." {
		name = "file"
	}
	return "attachments/" + ownerID + "/" + id + "/" + name
}

func (c *Client) objectKey(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if base := c.cfg.PublicBase; base != "" && strings.HasPrefix(ref, base+"/") {
		ref = strings.TrimPrefix(ref, base+"/")
	} else if strings.Contains(ref, "://") {
		return "", false
	}
	ref = strings.TrimPrefix(ref, "/")
	if ref == "" || strings.Contains(ref, "..") {
		return "", false
	}
	return ref, true
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
