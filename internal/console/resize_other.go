//go:build !unix

package console

func watchResize(func()) func() { return func() {} }
