// Package camera カメラデバイスの検出とキャプチャを担う
//
// # 責務
// - カメラデバイスの検出と検出結果のキャッシュ
// - デバイスごとのキャプチャワーカーの起動・停止・再起動
// - 最新フレーム1枚だけを保持するバッファの管理
// - 読み取り失敗が続いた時の自動再起動
// - カメラが使えない時のフォールバック画像の生成
//
// # 使い分け
// このパッケージは以下の場合に使用する：
// - 複数のカメラから最新のJPEGフレームを取り出したい
// - 抜き差しや読み取り失敗から自動で復帰させたい
// - 実機なしで動作を確認したい（MockBackend）
//
// # 仕様
// - Registry: 検出・起動・停止・再起動。1つのデバイスIDにハンドルは最大1つ
// - Worker: 専用のゴルーチンで読み取り続け、最新フレームだけを残す
// - Backend: デバイスを開く方法。設定の順に試し、1フレーム読めたものを使う
//   - v4l2: go4vl (linux)
//   - auto: ffmpeg のサブプロセス
//   - v4l: blackjack/webcam (linux)
//   - opencv: gocv (-tags gocv)
//
// - FallbackGenerator: 白地に文字を描いたJPEG。作った画像は使い回す
// - 仮想カメラ（ID -1）は実デバイスが見つからない時だけ検出結果に現れる
//
// # 前提要件
//   - v4l-utils: カメラ名の取得に使用
//     Ubuntu/Debian: sudo apt install v4l-utils
//     Red Hat/Fedora: sudo dnf install v4l-utils
//   - ffmpeg: auto 戦略での画像キャプチャに使用
//     Ubuntu/Debian: sudo apt install ffmpeg
//     Red Hat/Fedora: sudo dnf install ffmpeg
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package camera
