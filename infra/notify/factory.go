package notify

import (
	"context"
	"time"

	"github.com/kilianp07/dockflow/core/factory"
	corenotify "github.com/kilianp07/dockflow/core/notify"
)

// init registers the built-in notifiers.
func init() {
	_ = corenotify.Register("nop", func(map[string]any) (corenotify.Notifier, error) {
		return corenotify.NopNotifier{}, nil
	})

	_ = corenotify.Register("mqtt", func(conf map[string]any) (corenotify.Notifier, error) {
		var c MQTTConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewMQTTNotifier(c)
	})

	_ = corenotify.Register("redis", func(conf map[string]any) (corenotify.Notifier, error) {
		var c RedisConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return NewRedisNotifier(ctx, c)
	})
}
