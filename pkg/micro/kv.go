package micro

import (
	"context"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rotisserie/eris"
)

// KeyValue returns the JetStream key-value bucket, creating it on first use.
func (c *Client) KeyValue(ctx context.Context, bucket string) (jetstream.KeyValue, error) {
	kv, err := c.js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  bucket,
		Storage: jetstream.FileStorage,
	})
	if err != nil {
		if eris.Is(err, jetstream.ErrBucketExists) {
			kv, err = c.js.KeyValue(ctx, bucket)
			if err != nil {
				return nil, eris.Wrapf(err, "failed to get existing KeyValue (bucket=%s)", bucket)
			}
			return kv, nil
		}
		return nil, eris.Wrapf(err, "failed to create KeyValue (bucket=%s)", bucket)
	}
	return kv, nil
}
