package delivery

import (
	"errors"

	"github.com/Cooper3516833584/Cooper-bot/pkg/ziputil"
)

var errNothingPacked = errors.New("源文件不存在")

// writeSingleZip 把单个文件打包，zip 内保留原文件名
func writeSingleZip(out, src, name string) error {
	packed, _, err := ziputil.WriteArchive(out, []ziputil.Entry{{Path: src, Name: name}})
	if err != nil {
		return err
	}
	if packed == 0 {
		return errNothingPacked
	}
	return nil
}
