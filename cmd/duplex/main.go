// Package main 提供 duplex 命令行入口
//
// 三种运行模式：
//
//	duplex -mode broker    -listen  ws://0.0.0.0:8091/broker
//	duplex -mode subscribe -connect ws://127.0.0.1:8091/broker -types temperature -regexp 'alerts\..*'
//	duplex -mode publish   -connect ws://127.0.0.1:8091/broker -type temperature -message '21.5'
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dep2p/go-duplex"
	"github.com/dep2p/go-duplex/config"
	"github.com/dep2p/go-duplex/pkg/interfaces"
	"github.com/dep2p/go-duplex/pkg/lib/log"
)

var logger = log.Logger("duplex/cmd")

// ═══════════════════════════════════════════════════════════════════════════
// 命令行参数
// ═══════════════════════════════════════════════════════════════════════════
//
//   命令行参数：运行时覆盖
//   JSON 配置文件：长期固定的配置
//
// 优先级：命令行参数 > 环境变量 > 配置文件 > 默认值
//
// ═══════════════════════════════════════════════════════════════════════════
var (
	// ─────────────────────────────────────────────────────────────────────
	// 运行模式
	// ─────────────────────────────────────────────────────────────────────
	mode    = flag.String("mode", "broker", "运行模式 (broker/subscribe/publish)")
	listen  = flag.String("listen", "ws://127.0.0.1:8091/broker", "broker 模式的监听通道")
	connect = flag.String("connect", "ws://127.0.0.1:8091/broker", "客户端模式的服务通道")

	// ─────────────────────────────────────────────────────────────────────
	// 组合层
	// ─────────────────────────────────────────────────────────────────────
	configFile = flag.String("config", "", "配置文件路径")
	transport  = flag.String("transport", config.TransportWebSocket, "传输 (local/websocket)")
	secret     = flag.String("secret", "", "共享口令，非空时启用认证层")
	salt       = flag.String("salt", "", "口令派生盐值")
	buffered   = flag.Duration("buffered", 0, "启用缓冲层并设置最大离线时间（0 = 不启用）")
	logLevel   = flag.String("log-level", "", "日志级别 (debug/info/warn/error)")

	// ─────────────────────────────────────────────────────────────────────
	// 客户端参数
	// ─────────────────────────────────────────────────────────────────────
	types   = flag.String("types", "", "订阅的消息类型（逗号分隔）")
	regexps = flag.String("regexp", "", "订阅的正则表达式（逗号分隔）")
	msgType = flag.String("type", "", "发布的消息类型")
	message = flag.String("message", "", "发布的消息内容")
	timeout = flag.Duration("timeout", 10*time.Second, "连接等待超时")

	showVersion = flag.Bool("version", false, "显示版本信息")
	showHelp    = flag.Bool("help", false, "显示帮助信息")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(duplex.VersionInfo())
		return
	}
	if *showHelp {
		printHelp()
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := buildConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	node, err := duplex.Start(ctx, duplex.WithConfig(cfg))
	cancel()
	if err != nil {
		return fmt.Errorf("启动节点失败: %w", err)
	}
	defer func() {
		if err := node.Close(); err != nil {
			logger.Warn("关闭节点失败", "err", err)
		}
	}()

	switch *mode {
	case "broker":
		return runBroker(node)
	case "subscribe":
		return runSubscribe(node)
	case "publish":
		return runPublish(node)
	default:
		return fmt.Errorf("未知运行模式 %q", *mode)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// 运行模式
// ═══════════════════════════════════════════════════════════════════════════

func runBroker(node *duplex.Node) error {
	svc, err := duplex.NewBrokerService(node)
	if err != nil {
		return err
	}
	svc.BrokerMessageReceived().Subscribe(func(args duplex.BrokerMessageEventArgs) {
		logger.Info("收到发布", "type", args.MessageTypeID, "from", args.ResponseReceiverID, "size", len(args.Message))
	})

	in, err := node.CreateInputChannel(*listen)
	if err != nil {
		return err
	}
	if err := svc.AttachDuplexInputChannel(in); err != nil {
		return err
	}
	logger.Info("Broker 已启动", "channel", *listen)
	fmt.Printf("Broker 监听: %s\n", *listen)

	waitForSignal()
	logger.Info("正在关闭 Broker")
	return nil
}

func runSubscribe(node *duplex.Node) error {
	exact := splitAndTrim(*types, ",")
	patterns := splitAndTrim(*regexps, ",")
	if len(exact) == 0 && len(patterns) == 0 {
		return errors.New("subscribe 模式需要 -types 或 -regexp")
	}

	client, err := openBrokerClient(node)
	if err != nil {
		return err
	}
	client.BrokerMessageReceived().Subscribe(func(args duplex.BrokerMessageEventArgs) {
		fmt.Printf("[%s] %s\n", args.MessageTypeID, args.Message)
	})

	if len(exact) > 0 {
		if err := client.Subscribe(exact...); err != nil {
			return err
		}
	}
	if len(patterns) > 0 {
		if err := client.SubscribeRegExp(patterns...); err != nil {
			return err
		}
	}
	logger.Info("已订阅", "types", exact, "regexp", patterns)

	waitForSignal()
	return nil
}

func runPublish(node *duplex.Node) error {
	if *msgType == "" {
		return errors.New("publish 模式需要 -type")
	}

	client, err := openBrokerClient(node)
	if err != nil {
		return err
	}
	if err := client.Publish(*msgType, []byte(*message)); err != nil {
		return err
	}
	logger.Info("已发布", "type", *msgType, "size", len(*message))
	return nil
}

// openBrokerClient 创建客户端并等待连接打开
func openBrokerClient(node *duplex.Node) (*duplex.BrokerClient, error) {
	client, err := duplex.NewBrokerClient(node)
	if err != nil {
		return nil, err
	}

	opened := make(chan struct{}, 1)
	client.ConnectionOpened().Subscribe(func(interfaces.DuplexChannelEventArgs) {
		select {
		case opened <- struct{}{}:
		default:
		}
	})
	client.ConnectionClosed().Subscribe(func(args interfaces.DuplexChannelEventArgs) {
		logger.Warn("连接已关闭", "channel", args.ChannelID)
	})

	out, err := node.CreateOutputChannel(*connect)
	if err != nil {
		return nil, err
	}
	if err := client.AttachDuplexOutputChannel(out); err != nil {
		return nil, err
	}
	if out.IsConnected() {
		return client, nil
	}

	select {
	case <-opened:
		return client, nil
	case <-time.After(*timeout):
		return nil, fmt.Errorf("连接 %s 超时", *connect)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// 辅助函数
// ═══════════════════════════════════════════════════════════════════════════

// isFlagSet 检查命令行参数是否被显式设置
func isFlagSet(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// waitForSignal 等待退出信号
func waitForSignal() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals
}

func splitAndTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, sep)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printHelp() {
	fmt.Println(`duplex - 双工消息框架命令行

用法:
  duplex [选项]

示例:
  duplex -mode broker -listen ws://0.0.0.0:8091/broker -secret s3cret
  duplex -mode subscribe -connect ws://127.0.0.1:8091/broker -types temperature -secret s3cret
  duplex -mode publish -connect ws://127.0.0.1:8091/broker -type temperature -message 21.5 -secret s3cret

环境变量:
  DUPLEX_TRANSPORT   传输
  DUPLEX_SECRET      共享口令
  DUPLEX_SALT        口令派生盐值
  DUPLEX_LOG_LEVEL   日志级别

选项:`)
	flag.PrintDefaults()
}
