package collector

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/db-monitor/pkg/target"
)

const (
	mongoCPUPerConn      = 2.0
	mongoDisconnectGrace = 2 * time.Second
)

// ServerStatus serverStatus 命令里用到的字段，缺失字段解码为 0
type ServerStatus struct {
	Mem struct {
		Resident float64 `bson:"resident"`
	} `bson:"mem"`
	Connections struct {
		Current float64 `bson:"current"`
	} `bson:"connections"`
}

// StatusRunner 对 uri 执行一次 serverStatus
type StatusRunner func(ctx context.Context, uri string) (ServerStatus, error)

// Document MongoDB 采集器：memory = mem.resident，cpu = min(connections.current*2, 100)
type Document struct {
	serverStatus StatusRunner
}

func NewDocument() *Document {
	return &Document{serverStatus: mongoServerStatus}
}

// NewDocumentWithRunner 使用自定义 StatusRunner
func NewDocumentWithRunner(run StatusRunner) *Document {
	return &Document{serverStatus: run}
}

func (c *Document) Kind() target.EngineKind { return target.Document }

func (c *Document) Collect(ctx context.Context, uri string) (target.Reading, error) {
	status, err := c.serverStatus(ctx, uri)
	if err != nil {
		return target.Reading{}, err
	}
	return DocumentReading(status), nil
}

// DocumentReading 由 serverStatus 计算读数
func DocumentReading(s ServerStatus) target.Reading {
	return target.Reading{
		CPU:    linearCPU(s.Connections.Current, mongoCPUPerConn),
		Memory: s.Mem.Resident,
	}
}

func mongoServerStatus(ctx context.Context, uri string) (ServerStatus, error) {
	var status ServerStatus

	clientOpts := options.Client().ApplyURI(uri).SetMaxPoolSize(1)
	if deadline, ok := ctx.Deadline(); ok {
		clientOpts.SetServerSelectionTimeout(time.Until(deadline))
	}
	client, err := mongo.Connect(clientOpts)
	if err != nil {
		return status, fmt.Errorf("connect: %w", err)
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), mongoDisconnectGrace)
		defer cancel()
		_ = client.Disconnect(dctx)
	}()

	if err := client.Ping(ctx, readpref.PrimaryPreferred()); err != nil {
		return status, fmt.Errorf("ping: %w", err)
	}

	res := client.Database("admin").RunCommand(ctx, bson.D{{Key: "serverStatus", Value: 1}})
	if err := res.Decode(&status); err != nil {
		return status, fmt.Errorf("serverStatus: %w", err)
	}
	return status, nil
}
