package main

import (
	"os"

	"github.com/nhirsama/goster-zk/cli"
	"github.com/sirupsen/logrus"
)

func main() {
	if err := cli.Run(os.Args[1:]); err != nil {
		logrus.WithError(err).Fatal("goster-zk 启动失败")
	}
}
