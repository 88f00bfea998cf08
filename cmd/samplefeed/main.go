package main

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/pflag"

	"sensor-agent/internal/client"
)

func main() {
	addr := pflag.StringP("addr", "a", "127.0.0.1:7070", "sample ingest address")
	count := pflag.IntP("count", "n", 5, "number of samples")
	interval := pflag.DurationP("interval", "i", time.Second, "delay between samples")
	base := pflag.Float64("base", 20, "base reading")
	pflag.Parse()

	fmt.Println("启动采样模拟...")
	f, err := client.Dial(*addr, 5*time.Second)
	if err != nil {
		fmt.Printf("连接采样端口失败: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()
	fmt.Printf("已连接到 %s\n", *addr)

	for i := 0; i < *count; i++ {
		v := *base + rand.Float64()*5
		fmt.Printf(">> 发送样本 [%d/%d] %.2f\n", i+1, *count, v)
		if err := f.SendReading(v, 2); err != nil {
			fmt.Printf("发送失败: %v\n", err)
			os.Exit(1)
		}
		time.Sleep(*interval)
	}

	fmt.Println("发送完成，关闭连接")
}
