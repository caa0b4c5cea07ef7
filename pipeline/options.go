// Package pipeline wires the training workflow (ingestion, transformation,
// model training) and the prediction pipeline that serves the persisted
// artifacts.
//
// 学習は一方向のバッチ処理で、各段階の失敗は段階名付きでラップして返す。
// 推論側は Uninitialized → Loaded → Serving の状態を持ち、読み込み失敗は
// Failed のまま戻らない。
package pipeline

import (
	"github.com/YuminosukeSato/failrisk/core/model"
	"github.com/YuminosukeSato/failrisk/pkg/log"
)

// options は各コンポーネント共通の設定
type options struct {
	logger log.Logger
	store  *model.Store
}

// Option は pipeline のコンポーネントを設定する関数
type Option func(*options)

// WithLogger はログ出力先を設定する
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithStore は成果物の保存・読み込みに使う Store を差し替える
func WithStore(store *model.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

func newOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.NewNopLogger()
	}
	if o.store == nil {
		o.store = model.NewStore(model.WithStoreLogger(o.logger))
	}
	return o
}
