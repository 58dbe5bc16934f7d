// Package events 把 trace 条目发布到 NATS，供外部订阅。
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/domain"
)

// Publisher 实现 service.TraceSink。发布失败只记日志，不影响远程操作。
type Publisher struct {
	nc      *nats.Conn
	subject string
	log     *zap.Logger
}

func NewPublisher(url, subject string, log *zap.Logger) (*Publisher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	opts := []nats.Option{
		nats.Name("vmctl"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return newPublisher(nc, subject, log), nil
}

func newPublisher(nc *nats.Conn, subject string, log *zap.Logger) *Publisher {
	if subject == "" {
		subject = "vmctl.trace"
	}
	return &Publisher{nc: nc, subject: subject, log: log}
}

// Subject 发布主题；按 action 细分为 <subject>.<action>
func (p *Publisher) Subject(action string) string { return p.subject + "." + action }

func (p *Publisher) Write(e domain.TraceEntry) {
	if p.nc == nil || p.nc.IsClosed() {
		return
	}
	payload, err := json.Marshal(e)
	if err != nil {
		p.log.Warn("encode trace event", zap.Error(err))
		return
	}
	if err := p.nc.Publish(p.Subject(e.Action), payload); err != nil {
		p.log.Warn("publish trace event", zap.Uint64("seq", e.SequenceID), zap.Error(err))
	}
}

func (p *Publisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}
