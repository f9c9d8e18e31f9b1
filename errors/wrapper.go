package errors

import (
	"context"
	"fmt"
	"runtime"

	"ormkit/logging"
)

// WrapPersistence 翻译底层驱动错误并记录日志。
// 已经是 IError 的错误（例如规则校验失败）直接返回，不重复记录。
func WrapPersistence(ctx context.Context, err error, model, operation string) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(IError); ok {
		return err
	}

	translated := Translate(err, model)
	logging.GetLogger().Warn(ctx, fmt.Sprintf("数据库操作失败: %s", operation),
		logging.Error(err),
		logging.String("model", model),
		logging.String("operation", operation),
		logging.String("kind", string(PersistenceKindOf(translated))),
	)
	return translated
}

// WrapConnection 把连接尝试的失败包装为 ConnectionError 并记录调用位置。
// 已经是 ConnectionError 的错误原样返回。
func WrapConnection(ctx context.Context, err error, provider string) error {
	if err == nil {
		return nil
	}
	if IsConnection(err) {
		return err
	}

	_, file, line, _ := runtime.Caller(1)
	logging.GetLogger().Error(ctx, "provider 连接失败",
		logging.Error(err),
		logging.String("provider", provider),
		logging.String("error_code", string(GetErrorCode(err))),
		logging.String("location", fmt.Sprintf("%s:%d", file, line)),
	)
	return NewConnectionError(provider, err)
}
