package main

import "github.com/WGwuzhi/midjourney-proxy/cmd"

func main() {
	cmd.Execute()
}
