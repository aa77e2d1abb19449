package app

import (
	"context"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/gps_tracker/internal/config"
	"github.com/relabs-tech/gps_tracker/internal/proxy"
	"github.com/relabs-tech/gps_tracker/internal/radio"
)

// RunProxy forwards uplinks published under TOPIC_UPLINK_PREFIX to the
// SensorThings datastreams listed in PROXY_DATASTREAMS_FILE.
func RunProxy(ctx context.Context, cfg *config.Config, logDir string) error {
	logger := log.WithField("component", "proxy")

	h, err := newProxyHandler(cfg, logDir, logger)
	if err != nil {
		return err
	}

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDProxy, logger)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	topic := radio.UplinkTopic(cfg.TopicUplinkPrefix, "+")
	token := client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		if err := h.HandleUplink(ctx, msg.Payload()); err != nil {
			logger.Errorf("%v", err)
		}
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	logger.Infof("subscribed to %s", topic)

	<-ctx.Done()
	return nil
}

func newProxyHandler(cfg *config.Config, logDir string, logger log.FieldLogger) (*proxy.Handler, error) {
	ds, err := proxy.LoadDatastreams(cfg.ProxyDatastreamsFile)
	if err != nil {
		return nil, err
	}
	raw, err := proxy.NewRawLog(logDir, cfg.ProxyLogPattern)
	if err != nil {
		return nil, err
	}

	h := &proxy.Handler{
		Datastreams: ds,
		CoordScale:  cfg.ProxyCoordScale,
		RawLog:      raw,
		HTTP:        &http.Client{Timeout: 30 * time.Second},
		Log:         logger,
	}
	if cfg.ProxyTokenURL != "" {
		h.Tokens = proxy.NewTokenSource(proxy.Credentials{
			TokenURL:     cfg.ProxyTokenURL,
			ClientID:     cfg.ProxyClientID,
			ClientSecret: cfg.ProxyClientSecret,
			Username:     cfg.ProxyUsername,
			Password:     cfg.ProxyPassword,
		}, cfg.ProxyRefreshTokenFile, logger)
	} else {
		logger.Warn("no PROXY_TOKEN_URL configured, posting without authorization")
	}
	logger.Debugf("datastreams: %d devices", len(ds))
	return h, nil
}
