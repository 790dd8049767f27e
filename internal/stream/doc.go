// Package stream はカメラのフレームを連続配信用に加工して送り出す
//
// # 責務
// - 要求された品質へのJPEG再エンコード
// - 低品質時の鮮明化処理
// - フレームレートに合わせた送信ペースの制御
// - フレームがない時のフォールバック画像と自動再起動の要求
// - multipart/x-mixed-replace 形式のパート書き出し
// - 全カメラの最新フレームを1枚にまとめたモザイク画像
//
// # 仕様
// - 品質は10-100、フレームレートは1-60に丸める
// - 元の品質（85）と同じなら再エンコードしない
// - 品質が30未満ならコントラスト強調・鮮鋭化・アンシャープマスクを順に適用する
// - 再エンコードに失敗したら元のJPEGをそのまま送る
// - 送信ループはクライアントが切断するまで終わらない
package stream
