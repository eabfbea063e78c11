package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/lvdashuaibi/planningpoker/config"
	"github.com/lvdashuaibi/planningpoker/internal/api/graph"
	"github.com/lvdashuaibi/planningpoker/internal/gateway"
	intkafka "github.com/lvdashuaibi/planningpoker/internal/kafka"
	"github.com/lvdashuaibi/planningpoker/internal/lock"
	"github.com/lvdashuaibi/planningpoker/internal/registry"
	"github.com/lvdashuaibi/planningpoker/internal/repository"
	"github.com/lvdashuaibi/planningpoker/internal/service"
	"github.com/lvdashuaibi/planningpoker/internal/session"
)

var configPath = flag.String("config", "config/config.yaml", "配置文件路径")

func main() {
	// 解析命令行参数
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	log.Printf("配置加载成功")

	// 创建数据库连接
	mysqlRepo, err := repository.NewMySQLRepository()
	if err != nil {
		log.Fatalf("初始化MySQL仓库失败: %v", err)
	}
	defer mysqlRepo.Close()
	log.Printf("MySQL仓库初始化成功")

	// 创建Redis连接
	redisRepo, err := repository.NewRedisRepository()
	if err != nil {
		log.Fatalf("初始化Redis仓库失败: %v", err)
	}
	defer redisRepo.Close()
	log.Printf("Redis仓库初始化成功")

	// 创建会话锁
	sessionLock := lock.NewLocalLock()
	defer sessionLock.Close()

	// 创建Kafka生产者
	producer, err := intkafka.NewProducer()
	if err != nil {
		log.Fatalf("初始化Kafka生产者失败: %v", err)
	}
	defer producer.Close()
	log.Printf("Kafka生产者初始化成功")

	// 创建Kafka消费者
	consumer, err := intkafka.NewConsumer()
	if err != nil {
		log.Fatalf("初始化Kafka消费者失败: %v", err)
	}
	defer consumer.Stop()
	log.Printf("Kafka消费者初始化成功")

	// 创建会话状态机管理器
	machines := session.NewManager(
		mysqlRepo,
		sessionLock,
		cfg.Session.LockTimeout,
		cfg.Session.MaxParticipants,
		cfg.Session.MaxAliasLength,
	)

	// 创建连接注册表和会话网关
	connRegistry := registry.New()
	sessionGateway := gateway.NewGateway(machines, connRegistry, mysqlRepo, redisRepo, producer)
	log.Printf("会话网关初始化成功")

	// 创建会话服务
	sessionService := service.NewSessionService(
		mysqlRepo,
		redisRepo,
		machines,
		producer,
		sessionGateway,
		cfg.Session.MaxStories,
	)
	log.Printf("会话服务初始化成功")

	// 启动Kafka消费者，把会话事件写入事件日志
	consumer.StartConsuming(sessionService.ProcessSessionEvent)
	log.Printf("Kafka消费者已启动")

	// 创建GraphQL服务
	graphqlServer := graph.NewGraphQLServer(sessionService)
	log.Printf("GraphQL服务初始化成功")

	// 创建路由
	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()
	router.POST(cfg.Server.GraphQLPath, gin.WrapH(graphqlServer.Handler()))
	router.GET("/", gin.WrapF(graphqlServer.PlaygroundHandler()))
	router.GET(cfg.Server.WebSocketPath, gin.WrapH(sessionGateway.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// 启动HTTP服务器(异步)
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	go func() {
		if err := router.Run(addr); err != nil {
			log.Fatalf("启动HTTP服务器失败: %v", err)
		}
	}()

	log.Printf("Planning Poker 系统已启动，服务地址: http://localhost%s, WebSocket: ws://localhost%s%s",
		addr, addr, cfg.Server.WebSocketPath)

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("正在关闭服务...")
}
