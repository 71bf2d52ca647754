package main

import (
	"flag"
	"fmt"
	"math/rand"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"LoraFec_go/pkg/protocol"
	"LoraFec_go/pkg/transport"
)

type AppConfig struct {
	Sender SenderConfigSection `yaml:"sender"`
}

type SenderConfigSection struct {
	Network SenderNetworkConfig `yaml:"network"`
	Fec     SenderFecConfig     `yaml:"fec"`
	Link    SenderLinkConfig    `yaml:"link"`
	File    string              `yaml:"file"`
}

type SenderNetworkConfig struct {
	Destination string `yaml:"destination"`  // "192.168.0.10:9000"
	BindAddress string `yaml:"bind_address"` // "0.0.0.0"
	BindPort    uint16 `yaml:"bind_port"`    // 0 = any
}

type SenderFecConfig struct {
	Mode      string `yaml:"mode"` // "none" | "xor" | "reed_solomon"
	NumParity int    `yaml:"num_parity"`
	BlockSize int    `yaml:"block_size"` // xor mode only
}

type SenderLinkConfig struct {
	SendIntervalUs uint64  `yaml:"send_interval_micros"`
	DropRate       float64 `yaml:"drop_rate"` // simulated loss, for testing
}

func loadConfig(path string) (*AppConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return &cfg, nil
}

func packPackets(data []byte, cfg *SenderFecConfig) ([][]byte, error) {
	switch cfg.Mode {
	case "", "none":
		return protocol.PackStream(data)
	case "xor":
		blockSize := cfg.BlockSize
		if blockSize == 0 {
			blockSize = protocol.DefaultFECBlockSize
		}
		return protocol.PackStreamWithFEC(data, blockSize)
	case "reed_solomon":
		numParity := cfg.NumParity
		if numParity == 0 {
			numParity = 2
		}
		return protocol.PackStreamWithRSFEC(data, numParity)
	default:
		return nil, fmt.Errorf("unsupported FEC mode: %s", cfg.Mode)
	}
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config")
	flag.Parse()

	fmt.Printf("[fec-sender] loading config: %s\n", *configPath)
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	data, err := os.ReadFile(cfg.Sender.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read payload file: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("[fec-sender] payload: %s (%d bytes)\n", cfg.Sender.File, len(data))

	packets, err := packPackets(data, &cfg.Sender.Fec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pack failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("[fec-sender] mode=%s packets=%d\n", cfg.Sender.Fec.Mode, len(packets))

	bindAddr := fmt.Sprintf("%s:%d", cfg.Sender.Network.BindAddress, cfg.Sender.Network.BindPort)
	conn, err := net.ListenPacket("udp", bindAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bind udp failed: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	raddr, err := net.ResolveUDPAddr("udp", cfg.Sender.Network.Destination)
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolve dest failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("[fec-sender] destination: %s\n", raddr.String())

	interval := time.Duration(cfg.Sender.Link.SendIntervalUs) * time.Microsecond
	start := time.Now()
	sent, dropped := 0, 0
	var totalBytes uint64

	for i, pkt := range packets {
		if cfg.Sender.Link.DropRate > 0 && rand.Float64() < cfg.Sender.Link.DropRate {
			dropped++
			continue
		}
		if err := transport.SendFrame(conn, raddr, pkt); err != nil {
			fmt.Fprintf(os.Stderr, "send packet %d: %v\n", i, err)
			continue
		}
		sent++
		totalBytes += uint64(len(pkt))
		if interval > 0 {
			time.Sleep(interval)
		}
	}

	elapsed := time.Since(start)
	fmt.Println("============================================")
	fmt.Println("TRANSFER COMPLETED")
	fmt.Println("============================================")
	fmt.Printf("Packets sent:    %d\n", sent)
	if dropped > 0 {
		fmt.Printf("Simulated drops: %d\n", dropped)
	}
	fmt.Printf("Total sent:      %d bytes\n", totalBytes)
	fmt.Printf("Total time:      %.2f s\n", elapsed.Seconds())
}
